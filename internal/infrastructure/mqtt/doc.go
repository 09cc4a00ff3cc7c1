// Package mqtt wraps the Eclipse Paho client for the Hyperion bridge.
//
// The client connects with a clean session, registers a Last Will on
// hyperion/{client_id}/status so subscribers see "offline" if the bridge
// dies, and publishes a retained "online" message after every connect.
// Subscriptions are tracked locally and restored on reconnect.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("hyperion/bridge/command/#", 1, func(topic string, payload []byte) error {
//	    return handle(topic, payload)
//	})
package mqtt
