package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sdpower/usagebar-go/internal/types"
)

// TokenCache is a single-slot token store in a user-only file.
type TokenCache struct {
	Path string
}

// DefaultTokenCachePath is under the user cache directory.
func DefaultTokenCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "usagebar", "token")
}

func (c *TokenCache) Name() string { return "cache" }

func (c *TokenCache) Load(context.Context) (string, error) {
	data, err := os.ReadFile(c.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", types.ErrCredentialNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read token cache: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", types.ErrCredentialNotFound
	}
	return token, nil
}

func (c *TokenCache) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(c.Path), 0o700); err != nil {
		return fmt.Errorf("create token cache dir: %w", err)
	}
	tmp := c.Path + ".tmp"
	if err := os.WriteFile(tmp, []byte(token), 0o600); err != nil {
		return fmt.Errorf("write token cache: %w", err)
	}
	if err := os.Rename(tmp, c.Path); err != nil {
		return fmt.Errorf("replace token cache: %w", err)
	}
	return nil
}

func (c *TokenCache) Clear() error {
	if err := os.Remove(c.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token cache: %w", err)
	}
	return nil
}
