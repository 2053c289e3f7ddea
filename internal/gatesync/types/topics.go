package types

import "strings"

// Topic layout, parameterized by gate ID. The '+' forms are the center's
// subscriptions; the concrete forms are built per gate.

const (
	TopicAnyStatus      = "gate/+/status"
	TopicAnyAccess      = "gate/+/access"
	TopicAnySyncRequest = "gate/+/sync/request"
	TopicAnySyncLogs    = "gate/+/sync/logs"
)

func TopicStatus(gateID string) string       { return "gate/" + gateID + "/status" }
func TopicAccess(gateID string) string       { return "gate/" + gateID + "/access" }
func TopicSyncRequest(gateID string) string  { return "gate/" + gateID + "/sync/request" }
func TopicSyncResponse(gateID string) string { return "gate/" + gateID + "/sync/response" }
func TopicSyncLogs(gateID string) string     { return "gate/" + gateID + "/sync/logs" }
func TopicLogsAck(gateID string) string      { return "gate/" + gateID + "/sync/logs/ack" }
func TopicServerResponse(gateID string) string {
	return "server/response/" + gateID
}

// GateIDFromTopic extracts the gate segment from a "gate/<id>/..." topic.
// Returns "" if the topic does not follow that layout.
func GateIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] != "gate" || parts[1] == "" || parts[1] == "+" {
		return ""
	}
	return parts[1]
}
