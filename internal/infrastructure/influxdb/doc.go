// Package influxdb records receiver state history in InfluxDB v2.
//
// Each state change becomes one point in the receiver_state measurement,
// tagged with device_id. Fields are written only when the bridge actually
// knows the value:
//
//	power_on  integer 0/1
//	volume    float, dB
//	muted     integer 0/1
//	source    string, input name
//
// Writes go through the client's non-blocking batched API, so a slow or
// unreachable server never stalls polling. Asynchronous write failures are
// delivered to the callback set with SetOnError.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	on := true
//	client.WriteReceiverState("living-avr", influxdb.ReceiverState{PowerOn: &on})
package influxdb
