// Package metrics exposes scrape statistics as Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dpwh"

// RegionObservation summarizes one region scrape.
type RegionObservation struct {
	Region    string
	Success   bool
	Duration  time.Duration
	Found     int
	New       int
	Updated   int
	Unchanged int
	Missing   int
	Errors    int
}

// Recorder owns the collectors on a private registry. A nil *Recorder
// records nothing.
type Recorder struct {
	registry *prometheus.Registry

	regionsTotal  *prometheus.CounterVec
	recordsTotal  *prometheus.CounterVec
	changesTotal  *prometheus.CounterVec
	rowErrors     *prometheus.CounterVec
	projectsFound *prometheus.GaugeVec
	scrapeDur     *prometheus.SummaryVec
	lastSuccessTS *prometheus.GaugeVec
	rotationPos   prometheus.Gauge
	rotationTotal prometheus.Gauge
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}

	r.regionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "region_scrapes_total",
		Help:      "Region scrapes by outcome",
	}, []string{"region", "status"})
	r.recordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_total",
		Help:      "Reconciled project records by action",
	}, []string{"region", "action"})
	r.changesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "change_events_total",
		Help:      "Change events appended by type",
	}, []string{"change_type"})
	r.rowErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "row_errors_total",
		Help:      "Rows or records that failed to parse or persist",
	}, []string{"region"})
	r.projectsFound = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "region_projects_found",
		Help:      "Projects found in the last scrape of a region",
	}, []string{"region"})
	r.scrapeDur = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: namespace,
		Name:      "region_scrape_duration_seconds",
		Help:      "Time spent scraping one region",
	}, []string{"region"})
	r.lastSuccessTS = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "region_last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last successful scrape of a region",
	}, []string{"region"})
	r.rotationPos = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rotation_position",
		Help:      "1-based position of the last scraped region in the rotation, 0 when unknown",
	})
	r.rotationTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rotation_regions",
		Help:      "Number of active regions in the rotation",
	})

	r.registry.MustRegister(
		r.regionsTotal, r.recordsTotal, r.changesTotal, r.rowErrors,
		r.projectsFound, r.scrapeDur, r.lastSuccessTS,
		r.rotationPos, r.rotationTotal,
	)
	return r
}

// Registry returns the registry the collectors live on.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveRegion records the outcome of one region scrape.
func (r *Recorder) ObserveRegion(o RegionObservation) {
	if r == nil {
		return
	}

	status := "failed"
	if o.Success {
		status = "success"
		r.lastSuccessTS.WithLabelValues(o.Region).SetToCurrentTime()
		r.projectsFound.WithLabelValues(o.Region).Set(float64(o.Found))
	}
	r.regionsTotal.WithLabelValues(o.Region, status).Inc()
	r.scrapeDur.WithLabelValues(o.Region).Observe(o.Duration.Seconds())

	r.recordsTotal.WithLabelValues(o.Region, "created").Add(float64(o.New))
	r.recordsTotal.WithLabelValues(o.Region, "updated").Add(float64(o.Updated))
	r.recordsTotal.WithLabelValues(o.Region, "unchanged").Add(float64(o.Unchanged))
	if o.Errors > 0 {
		r.rowErrors.WithLabelValues(o.Region).Add(float64(o.Errors))
	}
}

// ObserveChanges counts appended change events of one type.
func (r *Recorder) ObserveChanges(changeType string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.changesTotal.WithLabelValues(changeType).Add(float64(n))
}

// ObserveRotation records the rotation position.
func (r *Recorder) ObserveRotation(position, total int) {
	if r == nil {
		return
	}
	r.rotationPos.Set(float64(position))
	r.rotationTotal.Set(float64(total))
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Server serves /metrics and /healthz.
type Server struct {
	server *http.Server
}

// NewServer creates a metrics server listening on addr.
func NewServer(addr string, r *Recorder) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &Server{server: &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}}
}

// Start serves in the background. Errors after startup are sent on the
// returned channel.
func (s *Server) Start() <-chan error {
	errc := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	return errc
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
