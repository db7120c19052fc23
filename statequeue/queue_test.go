package statequeue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	assert.True(t, q.IsEmpty())

	a := NewSetStateEntry("hm-rpc.0.A.STATE", 1, nil)
	b := NewSetStateEntry("hm-rpc.0.B.STATE", 2, nil)
	q.Enqueue(a)
	q.Enqueue(b)
	require.Equal(t, 2, q.Size())

	assert.Same(t, a, q.PeekHead())
	assert.Same(t, a, q.PeekHead(), "peek must not remove")
	q.RemoveHead()
	assert.Same(t, b, q.PeekHead())
	q.RemoveHead()
	assert.True(t, q.IsEmpty())
}

func TestQueueEmptyHeadPanics(t *testing.T) {
	q := NewQueue()
	assert.Panics(t, func() { q.PeekHead() })
	assert.Panics(t, func() { q.RemoveHead() })
}

func TestEntryLabel(t *testing.T) {
	e := NewSetStateEntry("hm-rpc.0.ABC.1.STATE", true, nil)
	assert.Equal(t, "setState(hm-rpc.0.ABC.1.STATE,true)", e.Label())
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, Idle, e.Outcome())
}

func TestValuesEqual(t *testing.T) {
	cases := []struct {
		a, b any
		want bool
	}{
		{1, 1, true},
		{1, float64(1), true},
		{1, "1", true},
		{1.5, "1.5", true},
		{true, true, true},
		{true, "true", true},
		{"on", "on", true},
		{1, 2, false},
		{"on", "off", false},
		{nil, nil, true},
		{nil, 0, false},
		{[]int{1}, []int{1}, true},
		{int64(9007199254740993), int64(9007199254740992), false},
		{int64(9007199254740993), uint64(9007199254740993), true},
		{int64(9007199254740993), uint64(9007199254740992), false},
		{int64(-1), uint64(18446744073709551615), false},
		{json.Number("9007199254740993"), int64(9007199254740992), false},
		{json.Number("9007199254740993"), int64(9007199254740993), true},
		{uint8(3), float64(3), true},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ValuesEqual(c.a, c.b), "%#v vs %#v", c.a, c.b)
	}
}

func TestGlobMatcher(t *testing.T) {
	m, err := GlobMatcher(DefaultSerializedPattern)
	require.NoError(t, err)
	assert.True(t, m("hm-rpc.0.ABC123.1.STATE"))
	assert.True(t, m("system.adapter.hm-rpc.1.alive"))
	assert.False(t, m("javascript.0.variables.test"))

	m, err = GlobMatcher("hm-rpc.*.STATE", "zigbee.**")
	require.NoError(t, err)
	assert.True(t, m("hm-rpc.0.STATE"))
	assert.False(t, m("hm-rpc.0.ABC.STATE"))
	assert.True(t, m("zigbee.0.lamp.state"))
}

func TestPrefixMatcher(t *testing.T) {
	m := PrefixMatcher("hm-rpc.", "hmip.")
	assert.True(t, m("hm-rpc.0.X"))
	assert.True(t, m("hmip.0.X"))
	assert.False(t, m("javascript.0.hm-rpc.x"))
}
