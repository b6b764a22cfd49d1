package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

var (
	// Logger is the high-rate structured logger for hot-path event records.
	Logger *zap.Logger

	EventsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_events_processed_total",
			Help: "Total number of inbound events processed",
		},
		[]string{"kind", "status"},
	)

	SignalsFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_signals_fired_total",
			Help: "Total number of pattern signals fired",
		},
		[]string{"signal"},
	)

	ModerationActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_moderation_actions_total",
			Help: "Total number of moderation actions by outcome",
		},
		[]string{"action"},
	)

	AlertsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_alerts_dispatched_total",
			Help: "Total number of operator alerts by delivery status",
		},
		[]string{"status"},
	)

	ProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "watchtower_event_processing_duration_seconds",
			Help:    "Time spent processing a single event",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)
)

// Init registers metrics, the tracer provider and the zap logger. Safe to
// call once at startup, before any component starts.
func Init(ctx context.Context) error {
	var err error
	Logger, err = zap.NewProduction()
	if err != nil {
		return err
	}

	prometheus.MustRegister(
		EventsProcessed,
		SignalsFired,
		ModerationActions,
		AlertsDispatched,
		ProcessingDuration,
	)

	tp := trace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	return nil
}

// Server exposes /metrics and /healthz. Runs as a lifecycle component.
type Server struct {
	addr string
	srv  *http.Server
}

func NewServer(addr string) *Server {
	return &Server{addr: addr}
}

func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.srv = &http.Server{Addr: s.addr, Handler: mux}

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server failed")
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
