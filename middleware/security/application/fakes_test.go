package application

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errStoreDown = errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")

// fakeStore é um CounterStore em memória sem TTL, com falha injetável.
type fakeStore struct {
	mu     sync.Mutex
	counts map[string]int64
	fail   bool
	calls  int
}

func newFakeStore() *fakeStore { return &fakeStore{counts: make(map[string]int64)} }

func (f *fakeStore) Increment(_ context.Context, key string, _ time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return 0, errStoreDown
	}
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeStore) Decrement(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return 0, errStoreDown
	}
	if f.counts[key] > 0 {
		f.counts[key]--
	}
	return f.counts[key], nil
}

func (f *fakeStore) Get(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[key], nil
}

func (f *fakeStore) Reset(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.counts, key)
	return nil
}

func (f *fakeStore) Ping(context.Context) error {
	if f.fail {
		return errStoreDown
	}
	return nil
}

// fakeClock é um relógio lógico controlado pelo teste.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
