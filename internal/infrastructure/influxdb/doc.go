// Package influxdb records component liveness history in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Heartbeats of the
// local component and state transitions of its peers are written as
// points, so outages can be reviewed after the fact. The registry itself
// never reads them back.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.RecordHeartbeat("speech", "1.0.0", "ALIVE")
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// Writes are batched according to batch_size and flush_interval; write
// errors are delivered to the SetOnError callback.
package influxdb
