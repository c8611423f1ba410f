// Package influxdb writes command telemetry to InfluxDB v2.
//
// Writes go through the client library's non-blocking batched write API;
// batch size and flush interval come from config. Asynchronous write
// errors are delivered to the SetOnError callback. Connection and health
// check errors are returned directly.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.WriteCommand(42, "api", "live", time.Now())
package influxdb
