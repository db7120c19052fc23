package adapterservice

import "time"

// AdapterService emulates a slow, lossy device adapter on the broker: it
// takes commands from <prefix>/set/<target> and reports them back as
// acknowledged states on <prefix>/state/<target> after AckDelayMs.
type AdapterService struct {
	MqttURL     string `json:"MqttURL"`
	MqttPort    string `json:"MqttPort"`
	ClientID    string `json:"ClientID"`
	TopicPrefix string `json:"TopicPrefix"`
	AckDelayMs  int    `json:"AckDelayMs"`
	// DropTargets are glob patterns of targets whose writes are silently
	// lost.
	DropTargets []string `json:"DropTargets"`
	// DropEvery loses every n-th command; 0 keeps all.
	DropEvery int  `json:"DropEvery"`
	Enabled   bool `json:"Enabled"`
}

type pendingAck struct {
	Target string
	Val    any
	Due    time.Time
}
