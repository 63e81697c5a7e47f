package domain

import "errors"

var (
	// ErrCredentialNotFound signals no stored credential for the account.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrExpiredCredential signals an expired token with no refresh token to renew it.
	ErrExpiredCredential = errors.New("credential expired and no refresh token available")
	// ErrAuthRevoked signals that the upstream rejected the refresh (invalid grant).
	ErrAuthRevoked = errors.New("authorization revoked upstream")
	// ErrSubscriptionNotFound signals an unknown EventSub subscription.
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrDuplicateEvent signals that an event with the same dedup key was already persisted.
	ErrDuplicateEvent = errors.New("duplicate event")
)
