// Package influxdb records Hyperion bridge telemetry in InfluxDB v2.
//
// Two measurements are written:
//
//	hyperion_exchange    one point per command exchange
//	                     tags: command, outcome  fields: duration_ms
//	hyperion_connection  one point per client state transition
//	                     tags: state  fields: address, reason
//
// The Client satisfies the Hyperion client's Recorder interface, so it
// can be passed straight to SetRecorder:
//
//	influx, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer influx.Close()
//	hyperionClient.SetRecorder(influx)
//
// Writes are non-blocking and batched (batch_size, flush_interval).
package influxdb
