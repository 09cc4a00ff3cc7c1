// Package hyperion implements the Hyperion LED server bridge.
//
// This package owns the TCP connection to a Hyperion server and speaks its
// JSON line protocol. Every message in either direction is one JSON object
// on a single line terminated by '\n'.
//
// # Architecture
//
//	┌──────────────┐  HTTP   ┌──────────────┐
//	│   clients    │────────►│  api.Server  │─┐
//	└──────────────┘         └──────────────┘ │   ┌────────────┐  TCP/JSON  ┌──────────┐
//	                                          ├──►│   Client   │◄──────────►│ Hyperion │
//	┌──────────────┐  MQTT   ┌──────────────┐ │   └────────────┘            └──────────┘
//	│  automation  │────────►│    Bridge    │─┘
//	└──────────────┘         └──────────────┘
//
// # Key Responsibilities
//
//   - Frame the inbound byte stream into newline-delimited frames (Framer)
//   - Encode commands and decode replies (Encode, Decode)
//   - Serialise commands so exactly one is in flight per connection (Client)
//   - Translate MQTT commands into client calls and publish replies (Bridge)
//   - Publish health status (HealthReporter)
//
// # Correlation
//
// The protocol carries no request identifier. The client admits one Send at
// a time in FIFO order and resolves it with the next frame read from the
// socket. Frames that arrive in the same read as a reply stay queued and
// resolve the following Send.
//
// Example:
//
//	client := hyperion.NewClient(hyperion.ClientConfig{Priority: 1000})
//	if err := client.Connect(ctx, "192.168.0.1", 19444); err != nil {
//	    return err
//	}
//	defer client.Disconnect()
//
//	resp, err := client.SetColor(ctx, hyperion.RGB{255, 0, 0})
//
// # Thread Safety
//
// All exported methods of Client, Bridge and HealthReporter are safe for
// concurrent use. Framer is not; it is owned by a single reader goroutine.
package hyperion
