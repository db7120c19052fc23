package adapterservice

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"gosrc.io/mqtt"

	"github.com/bigjimnolan/softrains/mqttservice"
)

const checkInterval = 50 * time.Millisecond

func (as *AdapterService) prefix() string {
	if as.TopicPrefix == "" {
		return mqttservice.DefaultTopicPrefix
	}
	return as.TopicPrefix
}

// Start connects to the broker and serves commands until the message
// channel closes.
func (as *AdapterService) Start() error {
	return as.Run(context.Background())
}

// Run serves commands until ctx ends or the message channel closes.
func (as *AdapterService) Run(ctx context.Context) error {
	sim, err := newSimulator(time.Duration(as.AckDelayMs)*time.Millisecond, as.DropTargets, as.DropEvery)
	if err != nil {
		return err
	}

	client := mqtt.NewClient(as.MqttURL + ":" + as.MqttPort)
	client.ClientID = as.ClientID
	if client.ClientID == "" {
		client.ClientID = "softrains-adapter"
	}

	messages := make(chan mqtt.Message)
	client.Messages = messages

	commands := mqttservice.CommandTopic(as.prefix(), "#")
	postConnect := func(c *mqtt.Client) {
		log.Info().Msg("adapter connected")
		c.Subscribe(mqtt.Topic{Name: commands, QOS: 0})
		log.Info().Msgf("Subscribed to topic: %s", commands)
	}
	cm := mqtt.NewClientManager(client, postConnect)
	cm.Start()
	defer cm.Stop()

	for {
		as.sendDue(client, sim)

		select {
		case <-ctx.Done():
			log.Info().Msg("adapter stopping")
			return nil
		case m, ok := <-messages:
			if !ok {
				return nil
			}
			kind, target, ok := mqttservice.ParseTopic(as.prefix(), m.Topic)
			if !ok || kind != "set" {
				log.Warn().Msgf("adapter ignoring topic %s", m.Topic)
				continue
			}
			p := mqttservice.DecodePayload(m.Payload, false)
			if sim.command(target, p.Val, time.Now()) {
				log.Debug().Msgf("command %s = %v, ack in %dms", target, p.Val, as.AckDelayMs)
			}
		case <-time.After(checkInterval):
			continue
		}
	}
}

// sendDue publishes the acknowledgments that are due.
func (as *AdapterService) sendDue(client *mqtt.Client, sim *simulator) {
	for _, p := range sim.due(time.Now()) {
		payload, err := json.Marshal(mqttservice.Payload{Val: p.Val, Ack: true})
		if err != nil {
			log.Error().Msgf("encode ack for %s: %v", p.Target, err)
			continue
		}
		client.Publish(mqttservice.StateTopic(as.prefix(), p.Target), payload)
		log.Debug().Msgf("acknowledged %s = %v", p.Target, p.Val)
	}
}
