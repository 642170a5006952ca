package acl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "automode.db"), zap.NewNop().Sugar())
}

func TestParseKey(t *testing.T) {
	key, ok := ParseKey("dalnet#help")
	require.True(t, ok)
	assert.Equal(t, Key{Network: "dalnet", Channel: "#help"}, key)

	key, ok = ParseKey("net&local#x")
	require.True(t, ok)
	assert.Equal(t, Key{Network: "net", Channel: "&local#x"}, key)

	for _, bad := range []string{"#nonet", "nochannel", "net#"} {
		_, ok := ParseKey(bad)
		assert.False(t, ok, bad)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	s.Set(Key{"dalnet", "#help"}, "*!*@staff.dal.net", "o")
	s.Set(Key{"dalnet", "#help"}, "$account:bob", "v")
	s.Set(Key{"efnet", "#go"}, "$oper", "ov")
	require.NoError(t, s.Save())

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n    \"dalnet#help\": {\n        \"$account:bob\": \"v\"")

	loaded := NewStore(s.Path(), zap.NewNop().Sugar())
	loaded.Load()
	assert.Equal(t, s.Keys(), loaded.Keys())
	assert.Equal(t, []Entry{
		{Mask: "$account:bob", Modes: "v"},
		{Mask: "*!*@staff.dal.net", Modes: "o"},
	}, loaded.Get(Key{"dalnet", "#help"}))
	assert.Equal(t, []string{"#go"}, loaded.Channels("efnet"))
	assert.Equal(t, 2, loaded.Len())

	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(s.Path()), ".automode.db.tmp-*"))
	assert.Empty(t, matches, "temp files are cleaned up")
}

func TestUnsetLastPatternRemovesKey(t *testing.T) {
	s := newTestStore(t)
	key := Key{"net", "#c"}
	s.Set(key, "a!*@*", "o")
	s.Set(key, "b!*@*", "v")

	assert.ErrorIs(t, s.Unset(key, "c!*@*"), ErrNoSuchMask)
	assert.ErrorIs(t, s.Unset(Key{"net", "#other"}, "a!*@*"), ErrNoEntries)

	require.NoError(t, s.Unset(key, "a!*@*"))
	assert.Equal(t, 1, s.Len())
	require.NoError(t, s.Unset(key, "b!*@*"))
	assert.Equal(t, 0, s.Len())
	assert.Nil(t, s.Get(key))
	assert.Empty(t, s.Keys())
}

func TestClear(t *testing.T) {
	s := newTestStore(t)
	key := Key{"net", "#c"}
	assert.ErrorIs(t, s.Clear(key), ErrNoEntries)
	s.Set(key, "a!*@*", "o")
	require.NoError(t, s.Clear(key))
	assert.Equal(t, 0, s.Len())
}

func TestSaveSnapshotsWhileMutating(t *testing.T) {
	s := newTestStore(t)
	help := Key{"dalnet", "#help"}
	ops := Key{"efnet", "#ops"}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			mask := fmt.Sprintf("*!*@host%d", i%7)
			s.Set(help, mask, "o")
			s.Set(ops, mask, "v")
			_ = s.Unset(help, mask)
			if i%5 == 0 {
				_ = s.Clear(ops)
			}
		}
	}()

	flusher := NewFlusher(s, time.Millisecond)
	flusher.Start(context.Background())

	for i := 0; i < 50; i++ {
		require.NoError(t, s.Save())
		data, err := os.ReadFile(s.Path())
		require.NoError(t, err)

		var saved map[string]map[string]string
		require.NoError(t, json.Unmarshal(data, &saved), "save %d is not valid JSON", i)
		for key, entries := range saved {
			assert.NotEmpty(t, entries, "save %d has an empty entry for %s", i, key)
			for mask, modes := range entries {
				assert.Contains(t, []string{"o", "v"}, modes, "%s %s", key, mask)
			}
		}
	}

	close(stop)
	wg.Wait()
	require.NoError(t, flusher.Stop())

	reloaded := NewStore(s.Path(), zap.NewNop().Sugar())
	reloaded.Load()
	assert.Equal(t, s.Keys(), reloaded.Keys(), "final save matches the table")
}

func TestLoadToleratesBadInput(t *testing.T) {
	s := newTestStore(t)

	// missing file
	s.Load()
	assert.Equal(t, 0, s.Len())

	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o644))
	s.Set(Key{"net", "#c"}, "a!*@*", "o")
	s.Load()
	assert.Equal(t, 0, s.Len(), "corrupt file yields an empty store")

	handEdited := `{
    // staff get ops everywhere
    "net#c": {"*!*@staff": "o", "empty": "",},
    "bogus": {"x": "o"},
    "net#empty": {},
}`
	require.NoError(t, os.WriteFile(s.Path(), []byte(handEdited), 0o644))
	s.Load()
	assert.Equal(t, []Key{{"net", "#c"}}, s.Keys())
	assert.Equal(t, []Entry{{Mask: "*!*@staff", Modes: "o"}}, s.Get(Key{"net", "#c"}))
}

type countingSaver struct {
	saves atomic.Int32
	err   error
}

func (c *countingSaver) Save() error {
	c.saves.Add(1)
	return c.err
}

func receive(t *testing.T, ch <-chan SaveResult) SaveResult {
	t.Helper()
	select {
	case r, ok := <-ch:
		require.True(t, ok, "results closed early")
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for save result")
	}
	return SaveResult{}
}

func TestFlusherSavesOnTickAndOnStop(t *testing.T) {
	saver := &countingSaver{}
	f := NewFlusher(saver, time.Minute)
	ticks := make(chan time.Time)
	f.tick = func(time.Duration) (<-chan time.Time, func()) { return ticks, func() {} }

	f.Start(context.Background())
	ticks <- time.Now()
	r := receive(t, f.Results())
	assert.False(t, r.Final)
	assert.NoError(t, r.Err)

	require.NoError(t, f.Stop())
	r = receive(t, f.Results())
	assert.True(t, r.Final)
	assert.Equal(t, int32(2), saver.saves.Load())

	_, open := <-f.Results()
	assert.False(t, open)

	// no further scheduled runs, and a second Stop does not save again
	require.NoError(t, f.Stop())
	assert.Equal(t, int32(2), saver.saves.Load())
}

func TestFlusherReportsErrors(t *testing.T) {
	saver := &countingSaver{err: errors.New("disk full")}
	f := NewFlusher(saver, 0)
	assert.Equal(t, DefaultSaveDelay, f.interval)

	err := f.Stop()
	assert.EqualError(t, err, "disk full")
	r := receive(t, f.Results())
	assert.True(t, r.Final)
	assert.Error(t, r.Err)
}
