// Package influxdb writes Thing telemetry to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health checks.
//
// Two measurements are written:
//
//	webthing_property,thing=<id>,property=<name> value=<float>[,state=<bool>]
//	webthing_event,thing=<id>,event=<name> count=1i[,value=<float>]
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteProperty("urn:dev:lamp", "brightness", 40, time.Now())
package influxdb
