package tokens

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"melody-map/internal/providers"
	"melody-map/internal/storage"
)

type fakeProvider struct {
	platform    storage.Platform
	refreshable bool
	refreshFn   func(refreshToken string) providers.RefreshResult
	verifyFn    func(accessToken string) (bool, error)

	calls       int32
	active      int32
	maxParallel int32
}

func newFakeSpotify(fn func(refreshToken string) providers.RefreshResult) *fakeProvider {
	return &fakeProvider{platform: storage.PlatformSpotify, refreshable: true, refreshFn: fn}
}

func (f *fakeProvider) Platform() storage.Platform { return f.platform }

func (f *fakeProvider) SupportsRefresh() bool { return f.refreshable }

func (f *fakeProvider) Refresh(ctx context.Context, refreshToken string) providers.RefreshResult {
	atomic.AddInt32(&f.calls, 1)
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		max := atomic.LoadInt32(&f.maxParallel)
		if n <= max || atomic.CompareAndSwapInt32(&f.maxParallel, max, n) {
			break
		}
	}

	if !f.refreshable {
		return providers.Unavailable("refresh_not_supported")
	}
	return f.refreshFn(refreshToken)
}

func (f *fakeProvider) Verify(ctx context.Context, accessToken string) (bool, error) {
	if f.verifyFn == nil {
		return true, nil
	}
	return f.verifyFn(accessToken)
}

func (f *fakeProvider) TokenLifetime(expiresIn int) time.Duration {
	if expiresIn > 0 {
		return time.Duration(expiresIn) * time.Second
	}
	if !f.refreshable {
		return providers.NonExpiringLifetime
	}
	return time.Hour
}

func (f *fakeProvider) Calls() int {
	return int(atomic.LoadInt32(&f.calls))
}

// succeedWith returns a refresh func issuing accessToken for one hour
func succeedWith(accessToken string) func(string) providers.RefreshResult {
	return func(string) providers.RefreshResult {
		return providers.Success(accessToken, "", 3600)
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(ctx context.Context, channel string, message interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if event, ok := message.(Event); ok && channel == EventsChannel {
		p.events = append(p.events, event)
	}
	return nil
}

func (p *recordingPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}
