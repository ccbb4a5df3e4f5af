package pioneer

import "strings"

// TopicPrefix roots every topic the bridge uses.
const TopicPrefix = "graylogic"

// Topic kinds. Each becomes the second segment: graylogic/{kind}/pioneer/...
const (
	kindCommand   = "command"
	kindAck       = "ack"
	kindState     = "state"
	kindHealth    = "health"
	kindRequest   = "request"
	kindResponse  = "response"
	kindDiscovery = "discovery"
)

func topic(kind string, rest ...string) string {
	return strings.Join(append([]string{TopicPrefix, kind, Protocol}, rest...), "/")
}

// CommandTopic is where a receiver's commands arrive,
// e.g. graylogic/command/pioneer/living-avr.
func CommandTopic(deviceID string) string { return topic(kindCommand, deviceID) }

// AckTopic carries command acknowledgements for deviceID.
func AckTopic(deviceID string) string { return topic(kindAck, deviceID) }

// StateTopic carries retained receiver state for deviceID.
func StateTopic(deviceID string) string { return topic(kindState, deviceID) }

// HealthTopic carries the retained bridge health and the broker's LWT.
func HealthTopic() string { return topic(kindHealth) }

func RequestTopic(requestID string) string { return topic(kindRequest, requestID) }

func ResponseTopic(requestID string) string { return topic(kindResponse, requestID) }

// DiscoveryTopic carries the retained receiver announcement.
func DiscoveryTopic() string { return topic(kindDiscovery) }

// CommandSubscribeTopic matches commands for every receiver.
func CommandSubscribeTopic() string { return topic(kindCommand, "#") }

// RequestSubscribeTopic matches every request.
func RequestSubscribeTopic() string { return topic(kindRequest, "#") }

// parseTopic splits graylogic/{kind}/pioneer/{id} into kind and id.
// ok is false for topics outside the bridge's namespace.
func parseTopic(t string) (kind, id string, ok bool) {
	parts := strings.Split(t, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[2] != Protocol {
		return "", "", false
	}
	return parts[1], parts[3], true
}
