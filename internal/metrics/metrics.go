package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "conversa_ws_connections",
		Help: "Active websocket connections",
	})

	Events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conversa_ws_events_total",
		Help: "Inbound socket events by name",
	}, []string{"event"})

	Messages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conversa_messages_total",
		Help: "Persisted messages by kind (text, image, audio, call, bot)",
	}, []string{"kind"})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conversa_http_requests_total",
		Help: "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})
)

var once sync.Once

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(Connections, Events, Messages, HTTPRequests)
	})
}

// Handler returns an http.Handler for Prometheus scraping
func Handler() http.Handler {
	return promhttp.Handler()
}
