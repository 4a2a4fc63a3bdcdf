// Package platform defines the contract between the publisher and the
// per-platform posting adapters. Adapters own the network and browser
// mechanics; the publisher only authenticates, posts and closes them.
package platform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var ErrUnsupportedPlatform = errors.New("unsupported platform")

// Account is the adapter-facing view of a connected platform account.
type Account struct {
	ID          string
	Platform    string
	Username    string
	Credentials map[string]string
}

type PostRequest struct {
	Caption    string
	MediaPaths []string
	Hashtags   []string
	IsVideo    bool
	// Category is a hint such as "post", "story", "reel" or "nsfw".
	Category string
}

type PostResult struct {
	Success      bool
	PostID       string
	URL          string
	ErrorMessage string
}

type Adapter interface {
	Authenticate(ctx context.Context, credentials map[string]string) (bool, error)
	PostContent(ctx context.Context, req PostRequest) (*PostResult, error)
	Close() error
}

// Factory builds a fresh adapter for one publish attempt.
type Factory func(account Account) (Adapter, error)

// Registry maps platform names to adapter factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalize(name)] = factory
}

func (r *Registry) Build(account Account) (Adapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[normalize(account.Platform)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, account.Platform)
	}
	return factory(account)
}

func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
