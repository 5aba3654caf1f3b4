package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_active_connections",
		Help: "Active websocket connections",
	})
	RoomPresence = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_room_presence",
		Help: "Live room presence entries across all rooms",
	})
	DocumentCollaborators = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_document_collaborators",
		Help: "Live document collaborators across all documents",
	})
	FramesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_frames_sent_total",
		Help: "Frames enqueued to connections, by event",
	}, []string{"event"})
	SlowConsumers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "realtime_slow_consumers_total",
		Help: "Connections closed because their send buffer was full",
	})
	Rejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_rejected_actions_total",
		Help: "Inbound actions answered with an error frame, by code",
	}, []string{"code"})
	Jobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_jobs_total",
		Help: "Detached jobs, by name and result",
	}, []string{"job", "result"})
)

var once sync.Once

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(Connections, RoomPresence, DocumentCollaborators,
			FramesSent, SlowConsumers, Rejected, Jobs)
	})
}

// Handler returns an http.Handler for Prometheus scraping
func Handler() http.Handler {
	return promhttp.Handler()
}
