package mqttservice

import (
	"bytes"
	"errors"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/rs/zerolog/log"

	"github.com/bigjimnolan/softrains/statestore"
)

// StateHookOptions configures StateHook.
type StateHookOptions struct {
	Store       *statestore.Store
	TopicPrefix string
}

// StateHook mirrors state publications of the adapters into the state
// store, which fires the acknowledgment subscriptions of queued writes.
type StateHook struct {
	mqtt.HookBase
	config *StateHookOptions
}

func (h *StateHook) ID() string {
	return "softrains-state"
}

func (h *StateHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnPublished,
	}, []byte{b})
}

func (h *StateHook) Init(config any) error {
	opts, ok := config.(*StateHookOptions)
	if !ok || opts == nil || opts.Store == nil {
		return errors.New("state hook needs *StateHookOptions with a Store")
	}
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = DefaultTopicPrefix
	}
	h.config = opts
	return nil
}

func (h *StateHook) OnPublished(cl *mqtt.Client, pk packets.Packet) {
	kind, target, ok := ParseTopic(h.config.TopicPrefix, pk.TopicName)
	if !ok || kind != "state" {
		return
	}
	p := DecodePayload(pk.Payload, true)
	if err := h.config.Store.Set(target, p.Val, p.Ack); err != nil {
		log.Error().Msgf("mirror state %s: %v", target, err)
		return
	}
	log.Debug().Msgf("state %s = %v (ack=%v) from %s", target, p.Val, p.Ack, clientID(cl))
}

func clientID(cl *mqtt.Client) string {
	if cl == nil {
		return "inline"
	}
	return cl.ID
}
