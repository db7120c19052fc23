// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package mqttservice

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/bigjimnolan/softrains/statestore"
)

type MQTTService struct {
	ID          string `json:"ID"`
	Address     string `json:"Address"`
	TopicPrefix string `json:"TopicPrefix"`
}

// Prefix returns the topic prefix, DefaultTopicPrefix when unset.
func (mqt MQTTService) Prefix() string {
	if mqt.TopicPrefix == "" {
		return DefaultTopicPrefix
	}
	return mqt.TopicPrefix
}

// Build creates the broker: inline client for publishing commands, a TCP
// listener for the adapters and the hook mirroring their states into store.
func (mqt MQTTService) Build(store *statestore.Store) (*mqtt.Server, error) {
	server := mqtt.New(&mqtt.Options{
		InlineClient: true, // you must enable inline client to use direct publishing and subscribing.
	})

	_ = server.AddHook(new(auth.AllowHook), nil)
	if mqt.Address != "" {
		tcp := listeners.NewTCP(listeners.Config{
			ID:      mqt.ID,
			Address: mqt.Address,
		})
		if err := server.AddListener(tcp); err != nil {
			return nil, err
		}
	}

	err := server.AddHook(new(StateHook), &StateHookOptions{
		Store:       store,
		TopicPrefix: mqt.Prefix(),
	})
	if err != nil {
		return nil, err
	}
	return server, nil
}

// Start serves server until SIGINT or SIGTERM.
func (mqt MQTTService) Start(server *mqtt.Server) error {
	sigs := make(chan os.Signal, 1)
	done := make(chan bool, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		done <- true
	}()

	log.Info().Msgf("Starting MQTT server on %s %s (prefix %s)", mqt.ID, mqt.Address, mqt.Prefix())
	go func() {
		err := server.Serve()
		if err != nil {
			log.Fatal().Msgf("Error serving mqtt: %v", err)
		}
	}()

	<-done
	log.Warn().Msg("caught signal, stopping mqtt server...")
	err := server.Close()
	log.Info().Msg("mqtt server finished")
	return err
}
