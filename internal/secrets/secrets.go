// Package secrets resolves configuration secrets through an ordered chain of
// sources, falling back to the environment.
package secrets

import (
	"context"
	"errors"
	"os"
	"strings"

	"go.uber.org/zap"
)

var ErrNotFound = errors.New("secret_not_found")

// Source looks up a single secret by its configuration key.
type Source interface {
	Name() string
	Lookup(ctx context.Context, key string) (string, error)
}

// Chain consults its sources in order. A source failure other than
// ErrNotFound is logged and the next source is tried.
type Chain struct {
	sources []Source
	log     *zap.Logger
}

func NewChain(log *zap.Logger, sources ...Source) *Chain {
	if log == nil {
		log = zap.NewNop()
	}
	return &Chain{sources: sources, log: log.Named("secrets")}
}

func (c *Chain) Resolve(ctx context.Context, key string) (string, error) {
	for _, src := range c.sources {
		value, err := src.Lookup(ctx, key)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, ErrNotFound) {
			c.log.Warn("secret source failed, falling back",
				zap.String("source", src.Name()),
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}
	return "", ErrNotFound
}

// ResolveDefault returns def when no source knows key.
func (c *Chain) ResolveDefault(ctx context.Context, key, def string) string {
	value, err := c.Resolve(ctx, key)
	if err != nil {
		return def
	}
	return value
}

// Env reads secrets from process environment variables.
type Env struct {
	LookupEnv func(string) (string, bool)
}

func (Env) Name() string { return "env" }

func (e Env) Lookup(_ context.Context, key string) (string, error) {
	lookup := e.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	value, ok := lookup(key)
	value = strings.TrimSpace(value)
	if !ok || value == "" {
		return "", ErrNotFound
	}
	return value, nil
}
