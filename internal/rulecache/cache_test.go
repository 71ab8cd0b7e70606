package rulecache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	loads int32
	rules []CachedRule
}

func (f *fakeSource) LoadEnabledRules(ctx context.Context, group string) ([]CachedRule, error) {
	atomic.AddInt32(&f.loads, 1)
	return f.rules, nil
}

type fakeRemote struct {
	store map[string]string
	fail  bool
}

func newFakeRemote() *fakeRemote { return &fakeRemote{store: make(map[string]string)} }

func (f *fakeRemote) Get(ctx context.Context, key string) (string, error) {
	if f.fail {
		return "", assertErr
	}
	v, ok := f.store[key]
	if !ok {
		return "", ErrMiss
	}
	return v, nil
}

func (f *fakeRemote) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if f.fail {
		return assertErr
	}
	f.store[key] = value
	return nil
}

func (f *fakeRemote) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.store, k)
	}
	return nil
}

var assertErr = context.DeadlineExceeded

func TestGetRules_LocalHitAvoidsSourceLoad(t *testing.T) {
	src := &fakeSource{rules: []CachedRule{{ID: "r1"}}}
	c := New(src)

	_, err := c.GetRules(context.Background(), "fraud")
	require.NoError(t, err)
	_, err = c.GetRules(context.Background(), "fraud")
	require.NoError(t, err)

	assert.EqualValues(t, 1, src.loads)
}

func TestGetRules_RemoteHitPopulatesLocal(t *testing.T) {
	src := &fakeSource{rules: []CachedRule{{ID: "r1"}}}
	remote := newFakeRemote()
	b, _ := json.Marshal(src.rules)
	remote.store[groupKey("fraud")] = string(b)

	c := New(src, WithRemote(remote))
	rules, err := c.GetRules(context.Background(), "fraud")
	require.NoError(t, err)
	assert.Len(t, rules, 1)
	assert.EqualValues(t, 0, src.loads, "remote hit should skip source load")
}

func TestGetRules_RemoteFailureDegradesToSource(t *testing.T) {
	src := &fakeSource{rules: []CachedRule{{ID: "r1"}}}
	remote := newFakeRemote()
	remote.fail = true

	c := New(src, WithRemote(remote))
	rules, err := c.GetRules(context.Background(), "fraud")
	require.NoError(t, err)
	assert.Len(t, rules, 1)
	assert.EqualValues(t, 1, src.loads)
}

func TestInvalidate_ClearsLocalAndTargetedRemoteKeys(t *testing.T) {
	src := &fakeSource{rules: []CachedRule{{ID: "r1"}}}
	remote := newFakeRemote()
	c := New(src, WithRemote(remote))

	_, err := c.GetRules(context.Background(), "fraud")
	require.NoError(t, err)
	assert.EqualValues(t, 1, src.loads)

	c.Invalidate(context.Background(), "fraud")

	_, err = c.GetRules(context.Background(), "fraud")
	require.NoError(t, err)
	assert.EqualValues(t, 2, src.loads, "invalidate should force a fresh load")
}

func TestInvalidate_NoGroupOnlyTouchesAll(t *testing.T) {
	src := &fakeSource{rules: []CachedRule{{ID: "r1"}}}
	remote := newFakeRemote()
	c := New(src, WithRemote(remote))

	_, err := c.GetRules(context.Background(), "")
	require.NoError(t, err)

	c.Invalidate(context.Background(), "")
	_, ok := remote.store[groupKey(allGroup)]
	assert.False(t, ok)
}
