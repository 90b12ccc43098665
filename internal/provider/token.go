package provider

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// tokenFetch performs the provider's auth handshake and reports the token's
// declared lifetime.
type tokenFetch func(ctx context.Context) (token string, ttl time.Duration, err error)

// tokenSource caches a bearer token until its expiry minus a safety margin.
// Refreshes go through a singleflight group so concurrent requests share one
// auth call instead of each triggering their own.
type tokenSource struct {
	fetch  tokenFetch
	margin time.Duration

	mu     sync.Mutex
	token  string
	expiry time.Time

	group singleflight.Group
}

func newTokenSource(fetch tokenFetch) *tokenSource {
	return &tokenSource{
		fetch:  fetch,
		margin: 30 * time.Second,
	}
}

func (t *tokenSource) Token(ctx context.Context) (string, error) {
	if tok, ok := t.cached(); ok {
		return tok, nil
	}

	v, err, _ := t.group.Do("token", func() (any, error) {
		// Another caller may have refreshed while we waited on the group.
		if tok, ok := t.cached(); ok {
			return tok, nil
		}
		tok, ttl, err := t.fetch(ctx)
		if err != nil {
			return "", err
		}
		t.mu.Lock()
		t.token = tok
		t.expiry = time.Now().Add(ttl)
		t.mu.Unlock()
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (t *tokenSource) cached() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token == "" || !time.Now().Before(t.expiry.Add(-t.margin)) {
		return "", false
	}
	return t.token, true
}

// Invalidate drops the cached token so the next call re-authenticates.
func (t *tokenSource) Invalidate() {
	t.mu.Lock()
	t.token = ""
	t.mu.Unlock()
}
