// Package mqtt connects the Pioneer bridge to the Gray Logic message bus.
//
// The bridge publishes receiver state, command acknowledgements, discovery
// announcements and health through this client, and receives commands and
// requests on wildcard subscriptions. Topic names are owned by the bridge
// package; this package only moves bytes.
//
// # Last Will
//
// Connect accepts an optional Will. The daemon passes the bridge health
// reporter's LWT so that a crashed bridge shows up as "offline" on
// graylogic/health/pioneer without any cooperation from the process.
//
// # Reconnection
//
// paho handles reconnection with a capped backoff taken from
// config.MQTTReconnectConfig. Subscriptions made through Subscribe are
// tracked and restored on every reconnect, and the OnConnect callback runs
// afterwards so callers can republish retained state.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, &mqtt.Will{
//	    Topic:    pioneer.HealthTopic(),
//	    Payload:  lwt,
//	    QoS:      1,
//	    Retained: true,
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(pioneer.CommandSubscribeTopic(), 1,
//	    func(topic string, payload []byte) {
//	        handle(topic, payload)
//	    })
package mqtt
