package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/botforge/streamgate/internal/crypto"
	"github.com/botforge/streamgate/internal/domain"
)

// credentialColumns must match the Scan order in scanCredential.
const credentialColumns = `account_id, twitch_user_id, login, access_token, refresh_token, token_expiry, scopes, created_at, updated_at`

// CredentialRepo implements domain.CredentialRepository. Tokens are
// encrypted at rest through the injected crypto service.
type CredentialRepo struct {
	pool   *pgxpool.Pool
	crypto crypto.Service
}

func NewCredentialRepo(pool *pgxpool.Pool, cryptoService crypto.Service) *CredentialRepo {
	return &CredentialRepo{pool: pool, crypto: cryptoService}
}

func (r *CredentialRepo) encryptTokens(accessToken, refreshToken string) (string, string, error) {
	encAccess, err := r.crypto.Encrypt(accessToken)
	if err != nil {
		return "", "", fmt.Errorf("failed to encrypt access token: %w", err)
	}
	encRefresh, err := r.crypto.Encrypt(refreshToken)
	if err != nil {
		return "", "", fmt.Errorf("failed to encrypt refresh token: %w", err)
	}
	return encAccess, encRefresh, nil
}

func (r *CredentialRepo) scanCredential(row pgx.Row) (*domain.Credential, error) {
	var cred domain.Credential
	err := row.Scan(
		&cred.AccountID, &cred.TwitchUserID, &cred.Login,
		&cred.AccessToken, &cred.RefreshToken, &cred.TokenExpiry,
		&cred.Scopes, &cred.CreatedAt, &cred.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrCredentialNotFound
	}
	if err != nil {
		return nil, err
	}

	cred.AccessToken, err = r.crypto.Decrypt(cred.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	cred.RefreshToken, err = r.crypto.Decrypt(cred.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}
	return &cred, nil
}

func (r *CredentialRepo) Get(ctx context.Context, accountID uuid.UUID) (*domain.Credential, error) {
	return r.scanCredential(r.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE account_id = $1`, accountID))
}

func (r *CredentialRepo) Upsert(ctx context.Context, cred *domain.Credential) (*domain.Credential, error) {
	encAccess, encRefresh, err := r.encryptTokens(cred.AccessToken, cred.RefreshToken)
	if err != nil {
		return nil, err
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO credentials (twitch_user_id, login, access_token, refresh_token, token_expiry, scopes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (twitch_user_id) DO UPDATE SET
			login = EXCLUDED.login,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expiry = EXCLUDED.token_expiry,
			scopes = EXCLUDED.scopes,
			updated_at = NOW()
		RETURNING `+credentialColumns+`
	`, cred.TwitchUserID, cred.Login, encAccess, encRefresh, cred.TokenExpiry, cred.Scopes)

	saved, err := r.scanCredential(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert credential: %w", err)
	}
	return saved, nil
}

func (r *CredentialRepo) UpdateTokens(ctx context.Context, accountID uuid.UUID, accessToken, refreshToken string, expiry time.Time) error {
	encAccess, encRefresh, err := r.encryptTokens(accessToken, refreshToken)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE credentials
		SET access_token = $1, refresh_token = $2, token_expiry = $3, updated_at = NOW()
		WHERE account_id = $4
	`, encAccess, encRefresh, expiry, accountID)
	if err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCredentialNotFound
	}
	return nil
}

func (r *CredentialRepo) Delete(ctx context.Context, accountID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM credentials WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}
