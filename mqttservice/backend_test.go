package mqttservice

import (
	"context"
	"testing"
	"time"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigjimnolan/softrains/statequeue"
	"github.com/bigjimnolan/softrains/statestore"
)

func newTestBroker(t *testing.T) (*mqtt.Server, *statestore.Store) {
	t.Helper()
	store := statestore.New()
	server, err := MQTTService{ID: "test"}.Build(store)
	require.NoError(t, err)
	require.NoError(t, server.Serve())
	t.Cleanup(func() { _ = server.Close() })
	return server, store
}

func TestBackendWithoutInlineClientFails(t *testing.T) {
	server := mqtt.New(&mqtt.Options{})
	store := statestore.New()
	b := NewBackend(server, store, "")

	var got error
	b.SetState("hm-rpc.0.A.STATE", true, false, func(err error) { got = err })
	assert.Error(t, got)
	_, err := store.Get("hm-rpc.0.A.STATE")
	assert.ErrorIs(t, err, statestore.ErrNotFound)

	require.NoError(t, store.Set("hm-rpc.0.A.STATE", false, true))
	b.SetState("hm-rpc.0.A.STATE", true, false, func(err error) { got = err })
	assert.Error(t, got)
	st, err := store.Get("hm-rpc.0.A.STATE")
	require.NoError(t, err)
	assert.Equal(t, false, st.Val)
	assert.True(t, st.Ack)
}

func TestBackendPublishesCommands(t *testing.T) {
	server, store := newTestBroker(t)
	b := NewBackend(server, store, DefaultTopicPrefix)

	commands := make(chan packets.Packet, 1)
	require.NoError(t, server.Subscribe(DefaultTopicPrefix+"/set/#", 1, func(cl *mqtt.Client, sub packets.Subscription, pk packets.Packet) {
		commands <- pk
	}))

	var got error = context.Canceled
	b.SetState("hm-rpc.0.A.LEVEL", 50, false, func(err error) { got = err })
	require.NoError(t, got)

	select {
	case pk := <-commands:
		assert.Equal(t, "statesync/set/hm-rpc.0.A.LEVEL", pk.TopicName)
		p := DecodePayload(pk.Payload, true)
		assert.Equal(t, float64(50), p.Val)
		assert.False(t, p.Ack)
	case <-time.After(2 * time.Second):
		t.Fatal("command not published")
	}

	st, err := store.Get("hm-rpc.0.A.LEVEL")
	require.NoError(t, err)
	assert.False(t, st.Ack)
}

func TestBackendDrivesProcessor(t *testing.T) {
	server, store := newTestBroker(t)
	b := NewBackend(server, store, DefaultTopicPrefix)

	// An adapter that confirms every command.
	require.NoError(t, server.Subscribe(DefaultTopicPrefix+"/set/#", 1, func(cl *mqtt.Client, sub packets.Subscription, pk packets.Packet) {
		_, target, ok := ParseTopic(DefaultTopicPrefix, pk.TopicName)
		if !ok {
			return
		}
		p := DecodePayload(pk.Payload, false)
		go b.SetState(target, p.Val, true, func(error) {})
	}))

	p := statequeue.NewProcessor(b, statequeue.Config{Name: "mqtt", Timeout: 2 * time.Second}, statequeue.WithLogger(zerolog.Nop()))
	t.Cleanup(func() { _ = p.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := p.Enqueue(statequeue.NewSetStateEntry("hm-rpc.0.A.STATE", true, nil)).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, statequeue.Acknowledged, res.State)

	st, err := store.Get("hm-rpc.0.A.STATE")
	require.NoError(t, err)
	assert.True(t, st.Ack)
}
