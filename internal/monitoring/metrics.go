package monitoring

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	CrawlsTotal        prometheus.Counter
	SaveErrorsTotal    prometheus.Counter
	ItemsSavedTotal    *prometheus.CounterVec
	ClassifiedTotal    prometheus.Counter
	ClassifierFailures prometheus.Counter
	NotificationsSent  *prometheus.CounterVec
}

// NewMetrics registers all counters on a dedicated registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CrawlsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "hotspot_crawls_total",
			Help: "The total number of completed crawl cycles",
		}),
		SaveErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "hotspot_save_errors_total",
			Help: "The total number of failed snapshot saves",
		}),
		ItemsSavedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hotspot_items_saved_total",
			Help: "Saved item deltas by kind",
		}, []string{"kind"}), // new, updated, title_changed, dropped
		ClassifiedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "hotspot_items_classified_total",
			Help: "The total number of items rated by the classifier",
		}),
		ClassifierFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "hotspot_classifier_failures_total",
			Help: "The total number of classifier calls that returned no rating",
		}),
		NotificationsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hotspot_notifications_sent_total",
			Help: "Notification fan-out outcomes by channel",
		}, []string{"channel", "outcome"}), // outcome: ok, failed
	}
}

// Listener serves /metrics when a listen address is configured.
type Listener struct {
	server *http.Server
	logger *slog.Logger
}

// NewListener builds the metrics HTTP server; addr empty returns nil.
func NewListener(addr string, reg *prometheus.Registry, log *slog.Logger) *Listener {
	if addr == "" {
		return nil
	}
	if log == nil {
		log = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &Listener{
		server: &http.Server{Addr: addr, Handler: mux},
		logger: log,
	}
}

// Start serves until Stop is called. Run it in its own goroutine.
func (l *Listener) Start() {
	l.logger.Info("metrics listener started", "addr", l.server.Addr)
	if err := l.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.logger.Error("metrics listener failed", "err", err)
	}
}

// Stop shuts the listener down with a short drain window.
func (l *Listener) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return l.server.Shutdown(ctx)
}
