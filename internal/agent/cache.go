package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/miradorstack/mirador-audit/internal/cache"
)

// Caller is the contract shared by Invoker and its decorators.
type Caller interface {
	Invoke(ctx context.Context, at Type, userPrompt string) (string, error)
	Ready() error
}

// Validator reports whether a reply of agent at is worth caching.
type Validator func(at Type, text string) bool

// CacheOption customises a CachingInvoker.
type CacheOption func(*CachingInvoker)

// WithValidator replaces the default check that a reply contains a JSON
// object or array.
func WithValidator(v Validator) CacheOption {
	return func(c *CachingInvoker) {
		if v != nil {
			c.valid = v
		}
	}
}

// CachingInvoker serves repeated identical calls from a cache. Only
// successful replies that pass the validator are stored, keyed by model,
// agent, system prompt and user prompt.
type CachingInvoker struct {
	next   Caller
	cache  cache.Provider
	ttl    time.Duration
	model  string
	logger *slog.Logger
	valid  Validator
}

// NewCachingInvoker wraps next. A nil provider or non-positive ttl disables caching.
func NewCachingInvoker(next Caller, provider cache.Provider, ttl time.Duration, model string, logger *slog.Logger, opts ...CacheOption) *CachingInvoker {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &CachingInvoker{next: next, cache: provider, ttl: ttl, model: model, logger: logger, valid: looksLikeJSON}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func looksLikeJSON(_ Type, text string) bool {
	return strings.ContainsAny(text, "{[")
}

// Ready delegates to the wrapped caller.
func (c *CachingInvoker) Ready() error {
	return c.next.Ready()
}

// Invoke returns a cached response when present, otherwise calls through.
func (c *CachingInvoker) Invoke(ctx context.Context, at Type, userPrompt string) (string, error) {
	if c.ttl <= 0 {
		return c.next.Invoke(ctx, at, userPrompt)
	}
	// Configuration problems must surface even when a response is cached.
	if err := c.next.Ready(); err != nil {
		return "", err
	}

	key := c.key(at, userPrompt)
	if data, err := c.cache.Get(ctx, key); err == nil {
		c.logger.Debug("agent response served from cache", slog.String("agent", at.String()))
		return string(data), nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.Warn("agent cache lookup failed", slog.String("agent", at.String()), slog.Any("error", err))
	}

	text, err := c.next.Invoke(ctx, at, userPrompt)
	if err != nil {
		return "", err
	}
	if !c.valid(at, text) {
		c.logger.Debug("agent response not cached: reply does not decode", slog.String("agent", at.String()))
		return text, nil
	}
	if text != "" {
		if err := c.cache.Set(ctx, key, []byte(text), c.ttl); err != nil {
			c.logger.Warn("agent cache store failed", slog.String("agent", at.String()), slog.Any("error", err))
		}
	}
	return text, nil
}

func (c *CachingInvoker) key(at Type, userPrompt string) string {
	h := sha256.New()
	for _, part := range []string{c.model, at.String(), SystemPrompt(at), userPrompt} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return "agent:" + at.String() + ":" + hex.EncodeToString(h.Sum(nil))
}
