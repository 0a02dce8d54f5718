package store

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/arborops/veggateway/internal/domain/model"
	"github.com/arborops/veggateway/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo persists per-caller upstream credentials. The shared
// service credential lives in configuration and never touches this table.
// Secrets are encrypted with AES-256-GCM before write and decrypted after
// read; principals and bookkeeping columns stay plaintext.
type CredentialRepo struct {
	db  *DB
	key []byte // 32-byte AES-256 key; nil when credential storage is disabled.
}

// NewCredentialRepo creates a CredentialRepo. key must be 32 bytes for
// AES-256-GCM, or nil to disable credential storage (Get and Upsert will
// return driven.ErrEncryptionKeyNotSet).
func NewCredentialRepo(db *DB, key []byte) *CredentialRepo {
	return &CredentialRepo{db: db, key: key}
}

// Get returns the caller's credential, or nil if none is stored.
func (r *CredentialRepo) Get(ctx context.Context, callerID int64) (*model.Credential, error) {
	if r.key == nil {
		return nil, driven.ErrEncryptionKeyNotSet
	}

	query := r.db.rebind(`SELECT principal, secret, valid, last_validated_at, last_used_at, failure_count
FROM credentials WHERE caller_id = ?`)

	var (
		cred            model.Credential
		encryptedSecret string
		lastValidatedAt sql.NullString
		lastUsedAt      sql.NullString
	)
	err := r.db.Reader.QueryRowContext(ctx, query, callerID).Scan(
		&cred.Principal, &encryptedSecret, &cred.Valid, &lastValidatedAt, &lastUsedAt, &cred.FailureCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential for caller %d: %w", callerID, err)
	}

	if cred.Secret, err = r.decrypt(encryptedSecret); err != nil {
		return nil, fmt.Errorf("decrypt secret for caller %d: %w", callerID, err)
	}

	cred.Kind = model.CredentialUser
	cred.CallerID = callerID
	if cred.LastValidatedAt, err = parseTime(lastValidatedAt); err != nil {
		return nil, fmt.Errorf("credential for caller %d: %w", callerID, err)
	}
	if cred.LastUsedAt, err = parseTime(lastUsedAt); err != nil {
		return nil, fmt.Errorf("credential for caller %d: %w", callerID, err)
	}

	return &cred, nil
}

// Upsert creates or fully replaces the caller's credential row.
func (r *CredentialRepo) Upsert(ctx context.Context, cred model.Credential) error {
	encryptedSecret, err := r.encrypt(cred.Secret)
	if err != nil {
		return err
	}

	query := r.db.rebind(`INSERT INTO credentials
    (caller_id, principal, secret, valid, last_validated_at, last_used_at, failure_count)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (caller_id) DO UPDATE SET
    principal = excluded.principal,
    secret = excluded.secret,
    valid = excluded.valid,
    last_validated_at = excluded.last_validated_at,
    last_used_at = excluded.last_used_at,
    failure_count = excluded.failure_count`)

	_, err = r.db.Writer.ExecContext(ctx, query,
		cred.CallerID, cred.Principal, encryptedSecret, cred.Valid,
		formatTime(cred.LastValidatedAt), formatTime(cred.LastUsedAt), cred.FailureCount,
	)
	if err != nil {
		return fmt.Errorf("upsert credential for caller %d: %w", cred.CallerID, err)
	}
	return nil
}

// Delete removes the caller's credential. Deleting a missing row is not an
// error.
func (r *CredentialRepo) Delete(ctx context.Context, callerID int64) error {
	query := r.db.rebind(`DELETE FROM credentials WHERE caller_id = ?`)
	if _, err := r.db.Writer.ExecContext(ctx, query, callerID); err != nil {
		return fmt.Errorf("delete credential for caller %d: %w", callerID, err)
	}
	return nil
}

// encrypt encrypts a secret using AES-256-GCM and returns a base64-encoded
// string containing the nonce (12 bytes) prepended to the ciphertext.
func (r *CredentialRepo) encrypt(plaintext string) (string, error) {
	if r.key == nil {
		return "", driven.ErrEncryptionKeyNotSet
	}

	block, err := aes.NewCipher(r.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts a base64-encoded AES-256-GCM ciphertext.
func (r *CredentialRepo) decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	block, err := aes.NewCipher(r.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("gcm.Open: %w", err)
	}

	return string(plaintext), nil
}
