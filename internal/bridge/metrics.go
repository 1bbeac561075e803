package bridge

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Relay metrics. Counters tell the story of every message that entered the
// bridge: relayed, buffered, dropped, or discarded as stale.
var (
	uplinkRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waterline_bridge_uplink_relayed_total",
		Help: "Messages relayed from the device to the broker.",
	})
	downlinkRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waterline_bridge_downlink_relayed_total",
		Help: "Messages relayed from the broker to the device.",
	})
	uplinkBuffered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "waterline_bridge_uplink_buffered",
		Help: "Messages currently waiting for the broker session.",
	})
	downlinkBuffered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "waterline_bridge_downlink_buffered",
		Help: "Messages currently waiting for the short-range link.",
	})
	bufferEvicted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waterline_bridge_buffer_evicted_total",
		Help: "Messages evicted under the drop-oldest overflow policy.",
	}, []string{"direction"})
	staleDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waterline_bridge_stale_telemetry_discarded_total",
		Help: "Buffered telemetry samples discarded as stale at broker reconnect.",
	})
	malformedDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waterline_bridge_malformed_dropped_total",
		Help: "Malformed messages dropped at the bridge boundary.",
	})
	linkReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waterline_bridge_link_reconnects_total",
		Help: "Successful short-range link (re)connections.",
	})
)

// StartMetricsServer exposes /metrics on the given address.
// Returns nil when addr is empty (metrics disabled).
func StartMetricsServer(addr string, onError func(error)) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if onError != nil {
				onError(err)
			}
		}
	}()
	return srv
}
