package mqttservice

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/rs/zerolog/log"

	"github.com/bigjimnolan/softrains/statequeue"
	"github.com/bigjimnolan/softrains/statestore"
)

// Backend writes states through the broker. Unacknowledged writes become
// commands for the adapter; the acknowledgments come back as state
// publications, which StateHook feeds into the store the subscriptions
// live on. The store records a write before it is published and drops it
// again when the publish fails.
type Backend struct {
	server *mqtt.Server
	store  *statestore.Store
	prefix string
}

func NewBackend(server *mqtt.Server, store *statestore.Store, prefix string) *Backend {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &Backend{server: server, store: store, prefix: prefix}
}

func (b *Backend) SetState(target string, value any, ack bool, done func(error)) {
	payload, err := json.Marshal(Payload{Val: value, Ack: ack})
	if err != nil {
		done(fmt.Errorf("encode %s: %w", target, err))
		return
	}
	undo, err := b.store.Replace(target, value, ack)
	if err != nil {
		done(err)
		return
	}

	topic := CommandTopic(b.prefix, target)
	if ack {
		topic = StateTopic(b.prefix, target)
	}
	if err := b.server.Publish(topic, payload, false, 0); err != nil {
		if _, rerr := b.store.Revert(undo); rerr != nil {
			log.Error().Msgf("revert %s after failed publish: %v", target, rerr)
		}
		done(fmt.Errorf("publish %s: %w", topic, err))
		return
	}
	done(nil)
}

func (b *Backend) Subscribe(filter statequeue.ChangeFilter, handler func(statequeue.Change)) (statequeue.Subscription, error) {
	return b.store.Subscribe(filter, handler)
}

func (b *Backend) Unsubscribe(sub statequeue.Subscription) {
	b.store.Unsubscribe(sub)
}
