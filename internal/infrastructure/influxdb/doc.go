// Package influxdb provides time-series storage for water level history.
//
// Telemetry samples and pump events are written to InfluxDB v2 as they
// arrive at the controller; dashboards and trend queries read from the
// bucket directly. SQLite keeps only a short operational window, InfluxDB
// holds the long-term series.
//
// Writes are non-blocking and batched. If InfluxDB is unreachable the
// controller keeps running; telemetry history is degraded, not fatal.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without history
//	}
package influxdb
