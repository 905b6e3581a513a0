// Package mqtt provides the broker client behind the Tep topic bus.
//
// A component owns one Client. Topics have the shape <scope>/<route>,
// where scope is a component name or "global":
//
//	speech ↔ MQTT Broker ↔ nlu, hotword, ...
//
// The first connection attempt is made once and reported to the caller,
// which owns the retry policy. After that paho reconnects on its own and
// the Client replays its subscriptions on every new session. A Will
// registered with WithWill lets peers notice a crashed component.
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT, mqtt.WithWill(will))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("global/alive", func(topic string, payload []byte) error {
//	    return handle(payload)
//	})
//
//	err = client.Publish("speech/say", payload)
package mqtt
