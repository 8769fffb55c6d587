package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sdpower/usagebar-go/internal/types"
)

// DefaultEnvVar overrides every other credential source.
const DefaultEnvVar = "CLAUDE_OAUTH_TOKEN"

// DefaultKeychainService is the keychain item Claude Code writes on macOS.
const DefaultKeychainService = "Claude Code-credentials"

type EnvSource struct {
	Var string
}

func (s EnvSource) Name() string { return "env" }

func (s EnvSource) Load(context.Context) (string, error) {
	name := s.Var
	if name == "" {
		name = DefaultEnvVar
	}
	if tok := os.Getenv(name); tok != "" {
		return tok, nil
	}
	return "", types.ErrCredentialNotFound
}

// FileSource reads Claude Code's credentials file.
type FileSource struct {
	Path string
}

func (s FileSource) Name() string { return "file" }

func (s FileSource) Load(context.Context) (string, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", types.ErrCredentialNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read credentials file: %w", err)
	}
	return extractAccessToken(data)
}

// DefaultCredentialsPath is $CLAUDE_CONFIG_DIR/.credentials.json, falling
// back to ~/.claude/.credentials.json.
func DefaultCredentialsPath() string {
	if dir := os.Getenv("CLAUDE_CONFIG_DIR"); dir != "" {
		return filepath.Join(dir, ".credentials.json")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".claude", ".credentials.json")
	}
	return filepath.Join(home, ".claude", ".credentials.json")
}

// CommandRunner runs an external command and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// KeychainSource reads the Claude Code item from the macOS keychain through
// the security(1) tool.
type KeychainSource struct {
	Service string
	Run     CommandRunner
	GOOS    string
}

func (s KeychainSource) Name() string { return "keychain" }

func (s KeychainSource) Load(ctx context.Context) (string, error) {
	goos := s.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	if goos != "darwin" {
		return "", types.ErrCredentialNotFound
	}
	service := s.Service
	if service == "" {
		service = DefaultKeychainService
	}
	run := s.Run
	if run == nil {
		run = execRunner
	}

	out, err := run(ctx, "security", "find-generic-password", "-s", service, "-w")
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", types.ErrCredentialNotFound
		}
		return "", fmt.Errorf("query keychain: %w", err)
	}
	return extractAccessToken([]byte(strings.TrimSpace(string(out))))
}
