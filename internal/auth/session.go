package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// SessionFile reads the signed-in identity from a session file written by
// the platform sign-in flow. Absent or expired session means signed out.
type SessionFile struct {
	Path string
}

type sessionDoc struct {
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s SessionFile) CurrentUser(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return "", ErrNotAuthenticated
	}
	if err != nil {
		return "", fmt.Errorf("read session file: %w", err)
	}

	var doc sessionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("parse session file: %w", err)
	}
	if doc.UserID == "" {
		return "", ErrNotAuthenticated
	}
	if !doc.ExpiresAt.IsZero() && time.Now().After(doc.ExpiresAt) {
		return "", ErrNotAuthenticated
	}
	return doc.UserID, nil
}

// WriteSession persists a session document. Used by the sign-in glue and by
// tests.
func WriteSession(path, userID string, expiresAt time.Time) error {
	data, err := json.MarshalIndent(sessionDoc{UserID: userID, ExpiresAt: expiresAt}, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize session: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}
