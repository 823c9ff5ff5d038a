// Package mqtt provides the device's MQTT connection to the platform.
//
// This package manages:
//   - Connection with token authentication and TLS (ssl://<org>.messaging.<domain>:8883)
//   - Plain connections for quickstart and local brokers (tcp://...:1883)
//   - Message publishing with QoS guarantees
//   - Topic subscriptions restored after reconnect
//   - Device event and command topic helpers
//
// # Architecture
//
// The device-management engine sees the client only through a small
// publish/subscribe interface, so it can be exercised against a fake in tests.
//
//	dm.Engine ↔ mqtt.Client ↔ platform broker
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.DeviceEvent("status", "json")
//	client.Publish(topic, []byte(`{"d":{"ok":true}}`), 1, false)
package mqtt
