// Package bus routes topic messages between a component and its peers.
//
// A Bus owns the topic to handler table of one component. Topics have the
// form "<scope>/<action>" where scope is a component name or "global".
// The table is built once at startup, either with Register or from an
// explicit route table with RegisterRoutes, and each topic is subscribed
// on the Transport when the bus connects.
//
// Inbound payloads are JSON envelopes:
//
//	{"topic": "speech/say", "data": {"arguments": {"text": "hi"}},
//	 "context": "general", "source": "nlu"}
//
// Dispatch never reports an error to the transport. Messages for another
// scope, for an unregistered topic, or with an undecodable payload are
// logged and dropped.
//
// Two transports are provided: MQTTTransport over the shared broker, and
// LocalBroker, an in-process loopback used by tests and single-process
// setups.
package bus
