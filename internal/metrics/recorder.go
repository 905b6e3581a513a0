package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tep"

// Drop reasons reported by the bus.
const (
	DropBadDestination = "bad_destination"
	DropNoHandler      = "no_handler"
	DropBadPayload     = "bad_payload"
)

// Recorder holds the Prometheus collectors of one component.
type Recorder struct {
	published       *prom.CounterVec
	dispatched      *prom.CounterVec
	dropped         *prom.CounterVec
	handlerErrors   *prom.CounterVec
	handlerDuration *prom.HistogramVec
	settingsChanges *prom.CounterVec
	storeRetries    *prom.CounterVec
	heartbeats      prom.Counter
	peerStates      *prom.GaugeVec
	initState       *prom.GaugeVec
	intentsSent     prom.Counter
	intentsAcked    prom.Counter
	intentRetries   prom.Counter
}

// NewRecorder creates the collectors and registers them on reg together
// with the Go and process collectors. A nil reg gets a private registry.
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}

	r := &Recorder{
		published: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "bus_published_total",
			Help:      "Messages published, by scope",
		}, []string{"scope"}),
		dispatched: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "bus_dispatched_total",
			Help:      "Messages delivered to a handler, by topic",
		}, []string{"topic"}),
		dropped: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "bus_dropped_total",
			Help:      "Inbound messages dropped, by reason",
		}, []string{"reason"}),
		handlerErrors: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "bus_handler_errors_total",
			Help:      "Handlers that returned an error or panicked, by topic",
		}, []string{"topic"}),
		handlerDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "bus_handler_duration_seconds",
			Help:      "Handler execution time",
			Buckets:   prom.DefBuckets,
		}, []string{"topic"}),
		settingsChanges: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "settings_changes_total",
			Help:      "Settings changes applied from the store, by scope",
		}, []string{"scope"}),
		storeRetries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "store_retries_total",
			Help:      "Store reads or watches retried after a failure, by operation",
		}, []string{"operation"}),
		heartbeats: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "registry_heartbeats_total",
			Help:      "Heartbeats written to the registry",
		}),
		peerStates: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_peer_state",
			Help:      "1 for the current state of each known peer",
		}, []string{"peer", "state"}),
		initState: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "initializer_state",
			Help:      "1 for the current startup state",
		}, []string{"state"}),
		intentsSent: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "intents_sent_total",
			Help:      "Intent files sent to the NLU peer",
		}),
		intentsAcked: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "intents_acked_total",
			Help:      "Intent files acknowledged by the NLU peer",
		}),
		intentRetries: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "intents_resent_total",
			Help:      "Intent files re-sent after an acknowledgement timeout",
		}),
	}

	reg.MustRegister(
		r.published, r.dispatched, r.dropped, r.handlerErrors, r.handlerDuration,
		r.settingsChanges, r.storeRetries, r.heartbeats, r.peerStates, r.initState,
		r.intentsSent, r.intentsAcked, r.intentRetries,
		promcollect.NewGoCollector(),
		promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the metrics of reg in the Prometheus text format.
func Handler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func (r *Recorder) IncPublished(scope string) {
	if r == nil {
		return
	}
	r.published.WithLabelValues(scope).Inc()
}

func (r *Recorder) ObserveDispatch(topic string, d time.Duration, err error) {
	if r == nil {
		return
	}
	r.dispatched.WithLabelValues(topic).Inc()
	r.handlerDuration.WithLabelValues(topic).Observe(d.Seconds())
	if err != nil {
		r.handlerErrors.WithLabelValues(topic).Inc()
	}
}

func (r *Recorder) IncDropped(reason string) {
	if r == nil {
		return
	}
	r.dropped.WithLabelValues(reason).Inc()
}

func (r *Recorder) IncSettingsChange(scope string) {
	if r == nil {
		return
	}
	r.settingsChanges.WithLabelValues(scope).Inc()
}

func (r *Recorder) IncStoreRetry(operation string) {
	if r == nil {
		return
	}
	r.storeRetries.WithLabelValues(operation).Inc()
}

func (r *Recorder) IncHeartbeat() {
	if r == nil {
		return
	}
	r.heartbeats.Inc()
}

// SetPeerState marks state as the only current state of peer.
func (r *Recorder) SetPeerState(peer, state string, allStates []string) {
	if r == nil {
		return
	}
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1
		}
		r.peerStates.WithLabelValues(peer, s).Set(v)
	}
}

// SetInitState marks state as the current initializer state.
func (r *Recorder) SetInitState(state string) {
	if r == nil {
		return
	}
	r.initState.Reset()
	r.initState.WithLabelValues(state).Set(1)
}

func (r *Recorder) IncIntentSent() {
	if r == nil {
		return
	}
	r.intentsSent.Inc()
}

func (r *Recorder) IncIntentAcked() {
	if r == nil {
		return
	}
	r.intentsAcked.Inc()
}

func (r *Recorder) IncIntentResent() {
	if r == nil {
		return
	}
	r.intentRetries.Inc()
}
