// Package mqtt provides MQTT client connectivity for Shadow Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Shadow Core uses MQTT as the device-facing transport. Constrained devices
// publish observed state to their reported topic and subscribe to their
// delta topic for pending desired changes. The broker decouples the service
// from device connectivity.
//
//	Devices ↔ MQTT Broker ↔ Shadow Core
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff 1s-60s
//   - Message throughput: Broker-limited (typically 10K+ msg/sec)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all device reported-state publications
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceReported(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish the pending delta for a device (retained)
//	topic := mqtt.Topics{}.DeviceDelta("thermostat-01")
//	client.Publish(topic, []byte(`{"setpoint":21.5}`), 1, true)
package mqtt
