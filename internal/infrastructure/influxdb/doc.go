// Package influxdb records device lifecycle telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Every state change
// and schedule update a device publishes becomes one point in the
// "lifecycle" measurement, tagged with the device name and property, so a
// dashboard can plot how a tree of devices moved through CLAIMING,
// PREPARING and ACTIVE over time.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteLifecycle("dish1", "state", "ACTIVE", time.Now())
//
// Writes are non-blocking and batched (batch_size, flush_interval).
// Batch failures are delivered to the SetOnError callback.
package influxdb
