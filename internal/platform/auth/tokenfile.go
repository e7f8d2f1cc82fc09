package auth

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Publish mints a token for subject and atomically replaces path with it.
// The file is readable by the owner only.
func (s *SessionIssuer) Publish(path, subject string, channels []string) error {
	token, err := s.Issue(subject, channels)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".ipc-token-*")
	if err != nil {
		return fmt.Errorf("create token file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod token file: %w", err)
	}
	if _, err := tmp.WriteString(token); err != nil {
		tmp.Close()
		return fmt.Errorf("write token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close token file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish token file: %w", err)
	}
	return nil
}

// KeepPublished republishes the token at half its lifetime until ctx ends,
// then removes the file. It blocks.
func (s *SessionIssuer) KeepPublished(ctx context.Context, path, subject string, channels []string, logger zerolog.Logger) {
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				logger.Warn().Err(err).Str("path", path).Msg("remove session token file")
			}
			return
		case <-ticker.C:
			if err := s.Publish(path, subject, channels); err != nil {
				logger.Error().Err(err).Str("path", path).Msg("refresh session token failed")
			}
		}
	}
}

// ReadTokenFile returns the token a host published at path.
func ReadTokenFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read session token: %w", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", fmt.Errorf("session token file %s is empty", path)
	}
	return token, nil
}
