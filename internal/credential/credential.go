// Package credential supplies the OAuth bearer token used by the usage client.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sdpower/usagebar-go/internal/types"
)

// Provider hands out a bearer token, possibly from a cache, and can be told
// that the token it handed out was rejected.
type Provider interface {
	// Token returns types.ErrCredentialNotFound (possibly wrapped) when no
	// token can be obtained.
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Source is one place a token can be read from.
type Source interface {
	Name() string
	Load(ctx context.Context) (string, error)
}

// Chain resolves a token from an optional override, then its own cache, then
// each upstream source in order. A token found upstream is written to the
// cache so later lookups avoid slow or interactive stores such as the
// keychain.
type Chain struct {
	override Source
	cache    *TokenCache
	upstream []Source
	logger   *zap.Logger
}

type ChainOptions struct {
	Override Source
	Cache    *TokenCache
	Upstream []Source
	Logger   *zap.Logger
}

func NewChain(opts ChainOptions) *Chain {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Chain{
		override: opts.Override,
		cache:    opts.Cache,
		upstream: opts.Upstream,
		logger:   opts.Logger,
	}
}

func (c *Chain) Token(ctx context.Context) (string, error) {
	if c.override != nil {
		if token, err := c.load(ctx, c.override); err == nil {
			return token, nil
		}
	}

	if c.cache != nil {
		if token, err := c.load(ctx, c.cache); err == nil {
			return token, nil
		}
	}

	var failures []string
	for _, src := range c.upstream {
		token, err := c.load(ctx, src)
		if err != nil {
			if !errors.Is(err, types.ErrCredentialNotFound) {
				failures = append(failures, fmt.Sprintf("%s: %v", src.Name(), err))
			}
			continue
		}
		if c.cache != nil {
			if err := c.cache.Save(token); err != nil {
				c.logger.Warn("failed to cache token", zap.Error(err))
			}
		}
		return token, nil
	}

	if len(failures) > 0 {
		return "", fmt.Errorf("%w (%s)", types.ErrCredentialNotFound, strings.Join(failures, "; "))
	}
	return "", types.ErrCredentialNotFound
}

// Invalidate drops the cached token so the next lookup goes upstream.
func (c *Chain) Invalidate() {
	if c.cache == nil {
		return
	}
	if err := c.cache.Clear(); err != nil {
		c.logger.Warn("failed to clear cached token", zap.Error(err))
	}
}

func (c *Chain) load(ctx context.Context, src Source) (string, error) {
	token, err := src.Load(ctx)
	if err != nil {
		c.logger.Debug("credential source unavailable", zap.String("source", src.Name()), zap.Error(err))
		return "", err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", types.ErrCredentialNotFound
	}
	c.logger.Debug("credential resolved", zap.String("source", src.Name()))
	return token, nil
}

// claudeCredentials is the JSON document Claude Code stores in its
// credentials file and keychain item.
type claudeCredentials struct {
	ClaudeAiOauth *struct {
		AccessToken      string `json:"accessToken"`
		SubscriptionType string `json:"subscriptionType"`
	} `json:"claudeAiOauth"`
}

func extractAccessToken(data []byte) (string, error) {
	var creds claudeCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", fmt.Errorf("parse Claude Code credentials: %w", err)
	}
	if creds.ClaudeAiOauth == nil || strings.TrimSpace(creds.ClaudeAiOauth.AccessToken) == "" {
		return "", fmt.Errorf("no OAuth token in Claude Code credentials: %w", types.ErrCredentialNotFound)
	}
	return creds.ClaudeAiOauth.AccessToken, nil
}
