package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementHeartbeat = "tep_heartbeat"
	measurementPeerState = "tep_peer_state"
)

// RecordHeartbeat writes one heartbeat of the local component.
//
// The write is non-blocking; points are batched and sent asynchronously.
//
// Example:
//
//	client.RecordHeartbeat("speech", "1.0.0", "ALIVE")
func (c *Client) RecordHeartbeat(component, version, state string) {
	if !c.Active() {
		return
	}
	c.writer.WritePoint(heartbeatPoint(component, version, state, time.Now()))
}

// RecordPeerState writes a peer state transition observed at the given time.
func (c *Client) RecordPeerState(peer, state string, at time.Time) {
	if !c.Active() {
		return
	}
	c.writer.WritePoint(peerStatePoint(peer, state, at))
}

func heartbeatPoint(component, version, state string, at time.Time) *write.Point {
	return write.NewPoint(
		measurementHeartbeat,
		map[string]string{
			"component": component,
			"version":   version,
		},
		map[string]any{
			"state": state,
			"alive": state != "NOT ALIVE",
		},
		at,
	)
}

func peerStatePoint(peer, state string, at time.Time) *write.Point {
	return write.NewPoint(
		measurementPeerState,
		map[string]string{
			"peer": peer,
		},
		map[string]any{
			"state": state,
		},
		at,
	)
}
