package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestRequestMetricsLogProducesSpanAndEntry(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetFormatter(&log.JSONFormatter{})

	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	metrics, _ := newRequestMetrics(context.Background(), logger, "/tasks", http.MethodGet)
	metrics.start = metrics.start.Add(-50 * time.Millisecond)
	metrics.ObserveAuth(10 * time.Millisecond)
	metrics.SetUserID(42)
	metrics.SetOutcome("listed")

	metrics.Log(http.StatusOK, nil)

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}

	entry := waitForLogEntry(t, hook, time.Second)
	if entry.Message != requestEventName {
		t.Fatalf("unexpected message: %s", entry.Message)
	}
	if entry.Level != log.InfoLevel {
		t.Fatalf("unexpected level: %v", entry.Level)
	}
	if entry.Data["route"] != "/tasks" || entry.Data["method"] != http.MethodGet {
		t.Fatalf("unexpected route fields: %#v", entry.Data)
	}
	if entry.Data["user_id"] != int64(42) {
		t.Fatalf("unexpected user id: %#v", entry.Data["user_id"])
	}
	if entry.Data["outcome"] != "listed" {
		t.Fatalf("unexpected outcome: %#v", entry.Data["outcome"])
	}
	if total, _ := entry.Data["total_ms"].(float64); total < 50 {
		t.Fatalf("expected total_ms >= 50, got %#v", entry.Data["total_ms"])
	}
	if entry.Data["severity_text"] != "INFO" || entry.Data["severity_number"] != 9 {
		t.Fatalf("unexpected severity: %v/%v", entry.Data["severity_text"], entry.Data["severity_number"])
	}
	if entry.Data["trace_id"] == nil || entry.Data["span_id"] == nil {
		t.Fatalf("expected trace correlation fields, got %#v", entry.Data)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != requestSpanName {
		t.Fatalf("unexpected span name: %s", span.Name)
	}
	if span.Status.Code != codes.Ok {
		t.Fatalf("unexpected span status: %v", span.Status)
	}
	attrs := attributesToMap(span.Attributes)
	if attrs["http.status_code"] != int64(http.StatusOK) {
		t.Fatalf("unexpected status attribute: %#v", attrs["http.status_code"])
	}
	if attrs["taskboard.user_id"] != int64(42) {
		t.Fatalf("unexpected user attribute: %#v", attrs["taskboard.user_id"])
	}
	if len(span.Events) != 1 || span.Events[0].Name != requestEventName {
		t.Fatalf("expected one %s event, got %#v", requestEventName, span.Events)
	}
}

func TestRequestMetricsLogErrorStatus(t *testing.T) {
	logger, hook := test.NewNullLogger()

	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	metrics, _ := newRequestMetrics(context.Background(), logger, "/", http.MethodGet)
	metrics.SetErrorStage("storage")
	metrics.Log(http.StatusInternalServerError, errors.New("database is locked"))

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}

	entry := waitForLogEntry(t, hook, time.Second)
	if entry.Level != log.ErrorLevel {
		t.Fatalf("unexpected level: %v", entry.Level)
	}
	if entry.Data["error_stage"] != "storage" {
		t.Fatalf("unexpected error stage: %#v", entry.Data["error_stage"])
	}
	if entry.Data["error"] != "database is locked" {
		t.Fatalf("unexpected error field: %#v", entry.Data["error"])
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	if spans[0].Status.Code != codes.Error || spans[0].Status.Description != "database is locked" {
		t.Fatalf("unexpected span status: %#v", spans[0].Status)
	}
}

func TestRequestMetricsNilSafe(t *testing.T) {
	var m *requestMetrics
	m.ObserveAuth(time.Millisecond)
	m.SetUserID(1)
	m.SetOutcome("x")
	m.SetErrorStage("y")
	m.Log(http.StatusOK, nil)
}

func TestSeverityForStatus(t *testing.T) {
	tests := []struct {
		status     int
		err        error
		wantText   string
		wantNumber int
	}{
		{http.StatusOK, nil, "INFO", 9},
		{http.StatusFound, nil, "INFO", 9},
		{http.StatusNotFound, nil, "WARN", 13},
		{http.StatusBadRequest, errors.New("bad"), "WARN", 13},
		{http.StatusServiceUnavailable, nil, "ERROR", 17},
		{0, errors.New("boom"), "ERROR", 17},
	}
	for _, tc := range tests {
		text, number := severityForStatus(tc.status, tc.err)
		if text != tc.wantText || number != tc.wantNumber {
			t.Errorf("severityForStatus(%d, %v) = %s/%d, want %s/%d", tc.status, tc.err, text, number, tc.wantText, tc.wantNumber)
		}
	}
}

func TestObserveRequestsUsesHTTPErrorCode(t *testing.T) {
	logger, hook := test.NewNullLogger()
	_, _, restore := setupTestTracer(t)
	defer restore()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/task_form/9", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/task_form/:id")

	handler := observeRequests(logger)(func(c echo.Context) error {
		if metricsFrom(c) == nil {
			t.Fatal("expected metrics in context")
		}
		return echo.ErrNotFound
	})
	if err := handler(c); !errors.Is(err, echo.ErrNotFound) {
		t.Fatalf("expected not found to propagate, got %v", err)
	}

	entry := waitForLogEntry(t, hook, time.Second)
	if entry.Data["status"] != http.StatusNotFound {
		t.Fatalf("unexpected status: %#v", entry.Data["status"])
	}
	if entry.Data["route"] != "/task_form/:id" {
		t.Fatalf("unexpected route: %#v", entry.Data["route"])
	}
	if entry.Level != log.WarnLevel {
		t.Fatalf("unexpected level: %v", entry.Level)
	}
}

func TestDurationToMillis(t *testing.T) {
	if got := durationToMillis(1500 * time.Microsecond); got != 1.5 {
		t.Fatalf("unexpected millis: %v", got)
	}
	if got := durationToMillis(-time.Second); got != 0 {
		t.Fatalf("negative durations should clamp to zero, got %v", got)
	}
}

func setupTestTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter, func()) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	cleanup := func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown tracer provider: %v", err)
		}
		otel.SetTracerProvider(prev)
	}
	return tp, exporter, cleanup
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func waitForLogEntry(t *testing.T, hook *test.Hook, timeout time.Duration) *log.Entry {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		if entry := hook.LastEntry(); entry != nil {
			return entry
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected log entry within %v", timeout)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
