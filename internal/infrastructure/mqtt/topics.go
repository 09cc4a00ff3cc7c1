package mqtt

// TopicPrefix is the root of every topic the bridge publishes or
// subscribes to.
const TopicPrefix = "hyperion"

// StatusTopic returns the retained online/offline topic for a client.
// The broker publishes the Last Will here if the client vanishes.
//
// Example: hyperion/hyperion-bridge/status
func StatusTopic(clientID string) string {
	return TopicPrefix + "/" + clientID + "/status"
}
