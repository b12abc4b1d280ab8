// Package influxdb records School Docs session metrics in InfluxDB v2.
//
// Two measurements are written, both tagged with the school ID:
//
//	role_resolution      tags: rule           fields: count, write_back
//	dashboard_selection  tags: dashboard      fields: count
//
// Writes are non-blocking and batched (batch_size, flush_interval).
// Asynchronous write failures go to the SetOnError callback. A nil or
// disconnected client drops points silently, so metrics never block
// session handling.
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.School.ID)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // metrics off
//	}
package influxdb
