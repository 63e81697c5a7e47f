// Package domain holds the core types and repository interfaces of the
// gateway. It has no dependencies on adapters; everything else depends on it.
package domain
