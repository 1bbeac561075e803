// Package mqtt provides MQTT client connectivity for Waterline.
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
// The broker is the only transport between the bridge and the backend
// controller; topics are namespaced per device:
//
//	Bridge (as device) ↔ MQTT Broker ↔ Backend Controller
//
// The bridge authenticates with the device's provisioned credential pair
// (device_id as username, device_key as password) so broker ACLs can scope
// each session to its own devices/{device_id}/# subtree. The backend uses
// a service account and subscribes across devices with wildcards.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceData(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("telemetry on %s: %s", topic, payload)
//	        return nil
//	    })
package mqtt
