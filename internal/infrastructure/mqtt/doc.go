// Package mqtt provides the broker link for Helm Core.
//
// This package manages:
//   - One process-wide connection to the broker with auto-reconnect
//   - QoS 1 publishing of command envelopes to per-device topics
//   - Wildcard subscriptions for device status and ack messages
//   - Connection health monitoring
//
// # Architecture
//
// The broker link is the push path for command delivery. Devices with a
// persistent connection receive commands immediately; everything else is
// picked up by the HTTP poll gateway, so publish failures here are soft
// by design.
//
//	Helm Core ↔ MQTT Broker ↔ Vessel devices (ESP32 relay controllers)
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topics := mqtt.Topics{Namespace: cfg.MQTT.Namespace}
//	err = client.Subscribe(topics.AllDeviceAcks(), 1,
//	    func(topic string, payload []byte) error {
//	        serial, kind, ok := topics.ParseDeviceTopic(topic)
//	        ...
//	    })
package mqtt
