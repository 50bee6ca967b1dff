//go:build !integration

package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeRedis struct {
	mu        sync.Mutex
	counts    map[string]int64
	expires   map[string]time.Duration
	published map[string][]string
	incrErr   error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{counts: map[string]int64{}, expires: map[string]time.Duration{}, published: map[string][]string{}}
}

func (f *fakeRedis) Ping(context.Context) error { return nil }
func (f *fakeRedis) Close() error               { return nil }

func (f *fakeRedis) Incr(_ context.Context, key string) (int64, error) {
	if f.incrErr != nil {
		return 0, f.incrErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeRedis) Expire(_ context.Context, key string, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expires[key] = d
	return nil
}

func (f *fakeRedis) Publish(_ context.Context, channel, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[channel] = append(f.published[channel], payload)
	return nil
}

func TestRateLimiter_Allow(t *testing.T) {
	f := newFakeRedis()
	rl := NewRateLimiter(f, "wh:")
	key := CommandKey(42, "/Start")
	stored := "wh:rl:cmd:42:start"
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if ok, err := rl.Allow(ctx, key, 3, time.Minute); err != nil || !ok {
			t.Fatalf("call %d should be allowed: %v %v", i+1, ok, err)
		}
	}
	if ok, _ := rl.Allow(ctx, key, 3, time.Minute); ok {
		t.Fatal("fourth call should be limited")
	}
	if f.expires[stored] != time.Minute {
		t.Fatalf("window not set on first hit under %q: %v", stored, f.expires)
	}

	if ok, err := rl.Allow(ctx, key, 0, time.Minute); err != nil || !ok {
		t.Fatalf("zero limit should disable limiting: %v %v", ok, err)
	}

	f.incrErr = errors.New("conn refused")
	if _, err := rl.Allow(ctx, key, 3, time.Minute); err == nil {
		t.Fatal("expected redis error to surface")
	}
}

func TestRateLimiter_DefaultPrefix(t *testing.T) {
	f := newFakeRedis()
	rl := NewRateLimiter(f, "  ")
	if _, err := rl.Allow(context.Background(), CommandKey(1, "help"), 5, time.Second); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.expires["miniapp:rl:cmd:1:help"]; !ok {
		t.Fatalf("expected default prefix, got %v", f.expires)
	}
}

func TestParseInvalidation(t *testing.T) {
	m, err := ParseInvalidation(`{"scope":"remains","product_id":" X "}`)
	if err != nil || m.Scope != "remains" || m.ProductID != "X" || m.CacheScope() != "remains" {
		t.Fatalf("unexpected message %+v, %v", m, err)
	}
	all, err := ParseInvalidation(`{"scope":"*"}`)
	if err != nil || all.CacheScope() != "" {
		t.Fatalf("expected wildcard scope, got %+v, %v", all, err)
	}
	for _, bad := range []string{``, `{}`, `{"scope":" "}`, `not json`} {
		if _, err := ParseInvalidation(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestPublishInvalidation(t *testing.T) {
	f := newFakeRedis()
	if err := PublishInvalidation(context.Background(), f, "miniapp:invalidate", Invalidation{Scope: "orders", ProductID: "p1"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	got := f.published["miniapp:invalidate"]
	if len(got) != 1 || got[0] != `{"scope":"orders","product_id":"p1"}` {
		t.Fatalf("unexpected payload: %v", got)
	}
}

func TestSubscriber_DispatchSkipsInvalid(t *testing.T) {
	l := zerolog.Nop()
	s := &Subscriber{channel: "c", log: &l}
	var got []Invalidation
	handle := func(_ context.Context, m Invalidation) { got = append(got, m) }

	s.dispatch(context.Background(), `{"scope":"tasks"}`, handle)
	s.dispatch(context.Background(), `garbage`, handle)
	if len(got) != 1 || got[0].Scope != "tasks" {
		t.Fatalf("unexpected dispatch: %+v", got)
	}
}
