package controller

import (
	"github.com/bigjimnolan/softrains/adapterservice"
	"github.com/bigjimnolan/softrains/mqttservice"
	"github.com/bigjimnolan/softrains/uiservice"
)

// SoftRainsConfig is the configuration structure for the SoftRains state sync service.
// It contains the log level, the queue tuning and the configuration of every service.
type SoftRainsConfig struct {
	LogLevel       string                        `json:"LogLevel"`
	StoreDataDir   string                        `json:"StoreDataDir"`
	StateQueue     StateQueueConfig              `json:"StateQueue"`
	MQTTService    mqttservice.MQTTService       `json:"MQTTService"`
	AdapterService adapterservice.AdapterService `json:"AdapterService"`
	UIService      uiservice.UIService           `json:"UIService"`
}

// StateQueueConfig tunes the synchronous write queue.
type StateQueueConfig struct {
	// Name labels the processor in logs and metrics. Unset derives it from
	// the first of SerializedTargets.
	Name      string `json:"Name"`
	TimeoutMs int    `json:"TimeoutMs"`
	// PollIntervalMs is the drain poll cadence; 0 releases entries as soon
	// as their outcome is known. Unset means the 500ms default.
	PollIntervalMs *int `json:"PollIntervalMs"`
	// SerializedTargets are glob patterns of targets that go through the queue.
	SerializedTargets []string `json:"SerializedTargets"`
	Debug             bool     `json:"Debug"`
}
