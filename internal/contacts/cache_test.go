package contacts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct {
	mu        sync.Mutex
	contacts  []string
	listErr   error
	creates   []string
	createErr error
	lists     int
}

func (f *fakeDirectory) ListContacts(_ context.Context, _ string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]string(nil), f.contacts...), nil
}

func (f *fakeDirectory) CreateContact(_ context.Context, _, _, number string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.creates = append(f.creates, number)
	return nil
}

type fakeFlags struct {
	mu       sync.Mutex
	recorded map[string]bool
}

func (f *fakeFlags) Recorded(_ context.Context, phone string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recorded[phone], nil
}

func (f *fakeFlags) MarkRecorded(_ context.Context, phone string, recorded bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recorded == nil {
		f.recorded = make(map[string]bool)
	}
	f.recorded[phone] = recorded
	return nil
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"+52 1 81 1234 5678": "8112345678",
		"528112345678":       "8112345678",
		"8112345678":         "8112345678",
		"12345":              "12345",
		"sin digitos":        "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), in)
	}
}

func TestEnsureKnownCreatesOnce(t *testing.T) {
	dir := &fakeDirectory{}
	c := NewCache(dir, &fakeFlags{}, DefaultTTL)

	c.EnsureKnown(context.Background(), "biz", "Ana", "528112345678")
	c.EnsureKnown(context.Background(), "biz", "Ana", "+52 81 1234 5678")

	require.Len(t, dir.creates, 1, "second call within the TTL must hit the optimistic add")
	assert.True(t, c.Known("biz", "8112345678"))
}

func TestEnsureKnownConcurrentSingleCreate(t *testing.T) {
	dir := &fakeDirectory{}
	c := NewCache(dir, &fakeFlags{}, DefaultTTL)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.EnsureKnown(context.Background(), "biz", "Ana", "8112345678")
		}()
	}
	wg.Wait()

	assert.Len(t, dir.creates, 1)
}

func TestEnsureKnownExistingContactSkipsCreate(t *testing.T) {
	dir := &fakeDirectory{contacts: []string{"+52 81 1234 5678"}}
	flags := &fakeFlags{}
	c := NewCache(dir, flags, DefaultTTL)

	c.EnsureKnown(context.Background(), "biz", "Ana", "8112345678")

	assert.Empty(t, dir.creates)
	assert.True(t, flags.recorded["8112345678"])
}

func TestEnsureKnownRecordedFlagSkipsCreate(t *testing.T) {
	dir := &fakeDirectory{}
	flags := &fakeFlags{recorded: map[string]bool{"8112345678": true}}
	c := NewCache(dir, flags, DefaultTTL)

	c.EnsureKnown(context.Background(), "biz", "Ana", "8112345678")

	assert.Empty(t, dir.creates)
}

func TestEnsureKnownListFailureSkipsCreate(t *testing.T) {
	dir := &fakeDirectory{listErr: errors.New("quota")}
	c := NewCache(dir, &fakeFlags{}, DefaultTTL)

	c.EnsureKnown(context.Background(), "biz", "Ana", "8112345678")

	assert.Empty(t, dir.creates, "no snapshot means no create")
}

func TestEnsureKnownCreateFailureIsSwallowed(t *testing.T) {
	dir := &fakeDirectory{createErr: errors.New("denied")}
	c := NewCache(dir, &fakeFlags{}, DefaultTTL)

	c.EnsureKnown(context.Background(), "biz", "Ana", "8112345678")

	assert.False(t, c.Known("biz", "8112345678"), "failed create must not poison the set")
}

func TestExpiredSnapshotResyncs(t *testing.T) {
	dir := &fakeDirectory{}
	c := NewCache(dir, &fakeFlags{}, time.Minute)
	base := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	c.Warm(context.Background(), "biz")
	require.Equal(t, 1, dir.lists)

	c.Warm(context.Background(), "biz")
	assert.Equal(t, 1, dir.lists, "fresh snapshot reused")

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	c.Warm(context.Background(), "biz")
	assert.Equal(t, 2, dir.lists, "stale snapshot refetched")
}
