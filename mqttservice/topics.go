package mqttservice

import (
	"encoding/json"
	"strings"
)

// DefaultTopicPrefix roots all state sync topics.
const DefaultTopicPrefix = "statesync"

// Payload is the body of command and state messages.
type Payload struct {
	Val any  `json:"val"`
	Ack bool `json:"ack"`
}

// CommandTopic carries writes to the adapter owning target.
func CommandTopic(prefix, target string) string {
	return prefix + "/set/" + target
}

// StateTopic carries the states an adapter reports for target.
func StateTopic(prefix, target string) string {
	return prefix + "/state/" + target
}

// ParseTopic splits a state sync topic into its kind ("set" or "state") and
// target.
func ParseTopic(prefix, topic string) (kind, target string, ok bool) {
	rest, found := strings.CutPrefix(topic, prefix+"/")
	if !found {
		return "", "", false
	}
	kind, target, found = strings.Cut(rest, "/")
	if !found || target == "" || (kind != "set" && kind != "state") {
		return "", "", false
	}
	return kind, target, true
}

// DecodePayload reads a JSON payload. Anything else is taken as a bare value
// with ack defaulting to defaultAck, the way simple devices publish.
func DecodePayload(b []byte, defaultAck bool) Payload {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return Payload{Val: string(b), Ack: defaultAck}
	}
	raw, ok := fields["val"]
	if !ok {
		return Payload{Val: string(b), Ack: defaultAck}
	}

	out := Payload{Ack: defaultAck}
	if rawAck, ok := fields["ack"]; ok {
		var ack bool
		if err := json.Unmarshal(rawAck, &ack); err == nil {
			out.Ack = ack
		}
	}
	if err := json.Unmarshal(raw, &out.Val); err != nil {
		out.Val = string(raw)
	}
	return out
}
