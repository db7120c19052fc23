package statestore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigjimnolan/softrains/statequeue"
)

func TestSetGet(t *testing.T) {
	s := New()
	_, err := s.Get("hm-rpc.0.A.STATE")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set("hm-rpc.0.A.STATE", true, false))
	st, err := s.Get("hm-rpc.0.A.STATE")
	require.NoError(t, err)
	assert.Equal(t, true, st.Val)
	assert.False(t, st.Ack)
	assert.False(t, st.Ts.IsZero())

	assert.Error(t, s.Set("", 1, false))
	assert.Equal(t, []string{"hm-rpc.0.A.STATE"}, s.Targets())
}

func TestSubscribeFiresOnceOnExactMatch(t *testing.T) {
	s := New()
	var got []statequeue.Change
	_, err := s.Subscribe(statequeue.ChangeFilter{Target: "hm-rpc.0.A.LEVEL", Value: 50, Ack: true}, func(c statequeue.Change) {
		got = append(got, c)
	})
	require.NoError(t, err)

	require.NoError(t, s.Set("hm-rpc.0.A.LEVEL", 50, false)) // not acknowledged
	require.NoError(t, s.Set("hm-rpc.0.A.LEVEL", 20, true))  // other value
	require.NoError(t, s.Set("hm-rpc.0.B.LEVEL", 50, true))  // other target
	assert.Empty(t, got)

	require.NoError(t, s.Set("hm-rpc.0.A.LEVEL", float64(50), true))
	require.NoError(t, s.Set("hm-rpc.0.A.LEVEL", 50, true))
	require.Len(t, got, 1)
	assert.Equal(t, float64(50), got[0].Value)
	assert.Equal(t, 0, s.Subscriptions())
}

func TestUnsubscribe(t *testing.T) {
	s := New()
	fired := false
	sub, err := s.Subscribe(statequeue.ChangeFilter{Target: "x", Value: 1, Ack: true}, func(statequeue.Change) { fired = true })
	require.NoError(t, err)
	s.Unsubscribe(sub)
	s.Unsubscribe(sub)

	require.NoError(t, s.Set("x", 1, true))
	assert.False(t, fired)

	_, err = s.Subscribe(statequeue.ChangeFilter{}, nil)
	assert.Error(t, err)
}

func TestPersistedStatesSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set("hm-rpc.0.A.STATE", true, true))
	require.NoError(t, s.Set("javascript.0.variables.test", "2", false))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	assert.Equal(t, []string{"hm-rpc.0.A.STATE", "javascript.0.variables.test"}, s.Targets())
	st, err := s.Get("hm-rpc.0.A.STATE")
	require.NoError(t, err)
	assert.Equal(t, true, st.Val)
	assert.True(t, st.Ack)
}

func TestRevert(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	undo, err := s.Replace("hm-rpc.0.A.STATE", true, false)
	require.NoError(t, err)
	restored, err := s.Revert(undo)
	require.NoError(t, err)
	assert.True(t, restored)
	_, err = s.Get("hm-rpc.0.A.STATE")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set("hm-rpc.0.A.STATE", 1, true))
	undo, err = s.Replace("hm-rpc.0.A.STATE", 2, false)
	require.NoError(t, err)
	restored, err = s.Revert(undo)
	require.NoError(t, err)
	assert.True(t, restored)
	st, err := s.Get("hm-rpc.0.A.STATE")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Val)

	undo, err = s.Replace("hm-rpc.0.A.STATE", 3, false)
	require.NoError(t, err)
	require.NoError(t, s.Set("hm-rpc.0.A.STATE", 3, true))
	restored, err = s.Revert(undo)
	require.NoError(t, err)
	assert.False(t, restored)
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	st, err = s.Get("hm-rpc.0.A.STATE")
	require.NoError(t, err)
	assert.Equal(t, float64(3), st.Val)
	assert.True(t, st.Ack)
}

func TestConcurrentSetsPersistLastApplied(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			assert.NoError(t, s.Set("hm-rpc.0.A.LEVEL", v, false))
		}(i)
	}
	wg.Wait()
	applied, err := s.Get("hm-rpc.0.A.LEVEL")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	reloaded, err := s.Get("hm-rpc.0.A.LEVEL")
	require.NoError(t, err)
	assert.True(t, statequeue.ValuesEqual(applied.Val, reloaded.Val), "applied %v, reloaded %v", applied.Val, reloaded.Val)
}

func TestStoreDrivesProcessor(t *testing.T) {
	s := New()
	p := statequeue.NewProcessor(s, statequeue.Config{Name: "store"})
	t.Cleanup(func() { _ = p.Close() })

	f := p.Enqueue(statequeue.NewSetStateEntry("hm-rpc.0.A.STATE", true, nil))
	require.Eventually(t, func() bool {
		st, err := s.Get("hm-rpc.0.A.STATE")
		return err == nil && !st.Ack
	}, time.Second, time.Millisecond)

	// The adapter confirms the value.
	require.NoError(t, s.Set("hm-rpc.0.A.STATE", true, true))
	res, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, statequeue.Acknowledged, res.State)
	assert.Equal(t, 0, s.Subscriptions())
}
