package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "katkisiz"

type Registry struct {
	reg *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec

	Analyses          *prometheus.CounterVec
	DetectedAdditives *prometheus.CounterVec
	NoIngredients     *prometheus.CounterVec
	OCRLatencySec     prometheus.Histogram
	OCRFailures       prometheus.Counter
	AlternativesSent  prometheus.Counter
	AlternativesFail  prometheus.Counter
	StorageSkipped    *prometheus.CounterVec
	AuthVerifications *prometheus.CounterVec

	KnowledgeBaseRecords *prometheus.GaugeVec
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "http_requests_total",
	}, []string{"method", "route", "code"})
	httpLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "http_request_duration_seconds", Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	analyses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "analyses_total",
	}, []string{"source", "status"})
	detected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "detected_additives_total",
	}, []string{"category"})
	noIngredients := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "analyses_no_ingredients_total",
	}, []string{"source"})
	ocrLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "ocr_latency_seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
	})
	ocrFailures := prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "ocr_failures_total"})
	altSent := prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "alternatives_published_total"})
	altFail := prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "alternatives_publish_failures_total"})
	storageSkipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "storage_events_skipped_total",
	}, []string{"reason"})
	authVerifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "auth_verifications_total",
	}, []string{"kind", "result", "reason"})
	kbRecords := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "knowledge_base_records",
	}, []string{"category"})

	r.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequests, httpLatency, analyses, detected, noIngredients, ocrLatency, ocrFailures,
		altSent, altFail, storageSkipped, authVerifications, kbRecords,
	)

	return &Registry{
		reg:                  r,
		HTTPRequests:         httpRequests,
		HTTPLatency:          httpLatency,
		Analyses:             analyses,
		DetectedAdditives:    detected,
		NoIngredients:        noIngredients,
		OCRLatencySec:        ocrLatency,
		OCRFailures:          ocrFailures,
		AlternativesSent:     altSent,
		AlternativesFail:     altFail,
		StorageSkipped:       storageSkipped,
		AuthVerifications:    authVerifications,
		KnowledgeBaseRecords: kbRecords,
	}
}

// ObserveRequest matches observability.RequestObserver.
func (r *Registry) ObserveRequest(method, route string, status int, latency time.Duration) {
	if r == nil {
		return
	}
	r.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.HTTPLatency.WithLabelValues(method, route).Observe(latency.Seconds())
}

// RecordVerification matches auth.VerificationRecorder.
func (r *Registry) RecordVerification(kind string, success bool, reason string, _ time.Duration) {
	if r == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	r.AuthVerifications.WithLabelValues(kind, result, reason).Inc()
}

// RecordAnalysis counts one finished analysis and its detections per category.
func (r *Registry) RecordAnalysis(source, status string, categories []string) {
	if r == nil {
		return
	}
	r.Analyses.WithLabelValues(source, status).Inc()
	for _, category := range categories {
		r.DetectedAdditives.WithLabelValues(category).Inc()
	}
}

func (r *Registry) RecordNoIngredients(source string) {
	if r == nil {
		return
	}
	r.NoIngredients.WithLabelValues(source).Inc()
}

// ObserveOCR records Vision latency; failed calls are counted separately.
func (r *Registry) ObserveOCR(latency time.Duration, err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.OCRFailures.Inc()
		return
	}
	r.OCRLatencySec.Observe(latency.Seconds())
}

func (r *Registry) RecordAlternatives(err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.AlternativesFail.Inc()
		return
	}
	r.AlternativesSent.Inc()
}

func (r *Registry) RecordStorageSkipped(reason string) {
	if r == nil {
		return
	}
	r.StorageSkipped.WithLabelValues(reason).Inc()
}

// SetKnowledgeBase publishes the loaded record count per category.
func (r *Registry) SetKnowledgeBase(counts map[string]int) {
	if r == nil {
		return
	}
	r.KnowledgeBaseRecords.Reset()
	for category, n := range counts {
		r.KnowledgeBaseRecords.WithLabelValues(category).Set(float64(n))
	}
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
