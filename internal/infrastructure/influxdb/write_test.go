package influxdb

import (
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/tep-core/internal/infrastructure/config"
)

func tags(p *write.Point) map[string]string {
	out := map[string]string{}
	for _, tag := range p.TagList() {
		out[tag.Key] = tag.Value
	}
	return out
}

func fields(p *write.Point) map[string]any {
	out := map[string]any{}
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestHeartbeatPoint(t *testing.T) {
	at := time.Unix(1700000000, 0)
	p := heartbeatPoint("speech", "1.0.0", "ALIVE", at)

	if p.Name() != measurementHeartbeat {
		t.Errorf("Name() = %q, want %q", p.Name(), measurementHeartbeat)
	}
	if got := tags(p); got["component"] != "speech" || got["version"] != "1.0.0" {
		t.Errorf("tags = %v", got)
	}
	got := fields(p)
	if got["state"] != "ALIVE" || got["alive"] != true {
		t.Errorf("fields = %v", got)
	}
	if !p.Time().Equal(at) {
		t.Errorf("Time() = %v, want %v", p.Time(), at)
	}
}

func TestHeartbeatPoint_NotAlive(t *testing.T) {
	p := heartbeatPoint("speech", "1.0.0", "NOT ALIVE", time.Now())
	if got := fields(p)["alive"]; got != false {
		t.Errorf("alive = %v, want false", got)
	}
}

func TestPeerStatePoint(t *testing.T) {
	p := peerStatePoint("nlu", "NOT ALIVE", time.Now())

	if p.Name() != measurementPeerState {
		t.Errorf("Name() = %q, want %q", p.Name(), measurementPeerState)
	}
	if got := tags(p)["peer"]; got != "nlu" {
		t.Errorf("peer tag = %q, want nlu", got)
	}
	if got := fields(p)["state"]; got != "NOT ALIVE" {
		t.Errorf("state field = %v, want NOT ALIVE", got)
	}
}

func TestOptions(t *testing.T) {
	tests := []struct {
		name      string
		batch     int
		flush     int
		wantBatch uint
		wantFlush uint
	}{
		{"configured", 50, 2, 50, 2000},
		{"zero uses defaults", 0, 0, defaultBatchSize, uint(defaultFlushInterval.Milliseconds())},
		{"negative uses defaults", -5, -1, defaultBatchSize, uint(defaultFlushInterval.Milliseconds())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := options(config.InfluxDBConfig{BatchSize: tt.batch, FlushInterval: tt.flush})
			if opts.BatchSize() != tt.wantBatch || opts.FlushInterval() != tt.wantFlush {
				t.Errorf("options() = (%d, %d), want (%d, %d)",
					opts.BatchSize(), opts.FlushInterval(), tt.wantBatch, tt.wantFlush)
			}
		})
	}
}
