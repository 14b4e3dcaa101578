package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRequest(t *testing.T) {
	reg := NewRegistry()
	reg.ObserveRequest(http.MethodPost, "/api/v1/analyses:text", http.StatusOK, 20*time.Millisecond)
	reg.ObserveRequest(http.MethodPost, "/api/v1/analyses:text", http.StatusOK, 30*time.Millisecond)

	if got := testutil.ToFloat64(reg.HTTPRequests.WithLabelValues(http.MethodPost, "/api/v1/analyses:text", "200")); got != 2 {
		t.Fatalf("expected 2 requests, got %v", got)
	}

	var nilReg *Registry
	nilReg.ObserveRequest(http.MethodGet, "/", http.StatusOK, time.Millisecond)
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := NewRegistry()
	reg.Analyses.WithLabelValues("text", "red").Inc()

	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `katkisiz_analyses_total{source="text",status="red"} 1`) {
		t.Fatalf("expected analyses counter in exposition")
	}
}

func TestRecordVerification(t *testing.T) {
	reg := NewRegistry()
	reg.RecordVerification("oidc", true, "ok", time.Millisecond)
	reg.RecordVerification("oidc", false, "token_missing", time.Millisecond)

	if got := testutil.ToFloat64(reg.AuthVerifications.WithLabelValues("oidc", "failure", "token_missing")); got != 1 {
		t.Fatalf("expected 1 failure, got %v", got)
	}
	if got := testutil.ToFloat64(reg.AuthVerifications.WithLabelValues("oidc", "success", "ok")); got != 1 {
		t.Fatalf("expected 1 success, got %v", got)
	}
}

func TestRecordAnalysisCountsCategories(t *testing.T) {
	reg := NewRegistry()
	reg.RecordAnalysis("ingredients", "red", []string{"avoid", "caution", "avoid"})
	reg.RecordNoIngredients("text")
	reg.RecordStorageSkipped("processed")

	if got := testutil.ToFloat64(reg.Analyses.WithLabelValues("ingredients", "red")); got != 1 {
		t.Fatalf("expected 1 analysis, got %v", got)
	}
	if got := testutil.ToFloat64(reg.DetectedAdditives.WithLabelValues("avoid")); got != 2 {
		t.Fatalf("expected 2 avoid detections, got %v", got)
	}
	if got := testutil.ToFloat64(reg.NoIngredients.WithLabelValues("text")); got != 1 {
		t.Fatalf("expected no-ingredients counter, got %v", got)
	}
	if got := testutil.ToFloat64(reg.StorageSkipped.WithLabelValues("processed")); got != 1 {
		t.Fatalf("expected skipped counter, got %v", got)
	}
}

func TestObserveOCRAndAlternatives(t *testing.T) {
	reg := NewRegistry()
	reg.ObserveOCR(time.Second, nil)
	reg.ObserveOCR(time.Second, errors.New("boom"))
	reg.RecordAlternatives(nil)
	reg.RecordAlternatives(errors.New("boom"))

	if got := testutil.ToFloat64(reg.OCRFailures); got != 1 {
		t.Fatalf("expected 1 ocr failure, got %v", got)
	}
	if got := testutil.CollectAndCount(reg.OCRLatencySec); got != 1 {
		t.Fatalf("expected latency histogram collected, got %d", got)
	}
	if testutil.ToFloat64(reg.AlternativesSent) != 1 || testutil.ToFloat64(reg.AlternativesFail) != 1 {
		t.Fatalf("unexpected alternatives counters")
	}
}

func TestSetKnowledgeBaseReplacesGauges(t *testing.T) {
	reg := NewRegistry()
	reg.SetKnowledgeBase(map[string]int{"avoid": 19, "safe": 3})
	reg.SetKnowledgeBase(map[string]int{"avoid": 20})

	if got := testutil.ToFloat64(reg.KnowledgeBaseRecords.WithLabelValues("avoid")); got != 20 {
		t.Fatalf("expected 20 avoid records, got %v", got)
	}
	if got := testutil.CollectAndCount(reg.KnowledgeBaseRecords); got != 1 {
		t.Fatalf("expected stale categories removed, got %d series", got)
	}
}
