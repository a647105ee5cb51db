package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName        = "taskboard/api"
	requestSpanName   = "http.request"
	requestEventName  = "taskboard.request"
	metricsContextKey = "taskboard.metrics"
)

type requestMetrics struct {
	logger       *log.Logger
	span         trace.Span
	start        time.Time
	route        string
	method       string
	userID       int64
	authDuration time.Duration
	outcome      string
	errorStage   string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, route, method string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, requestSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.route", route),
			attribute.String("http.method", method),
		),
	)
	return &requestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
		route:  route,
		method: method,
	}, ctx
}

func (m *requestMetrics) ObserveAuth(duration time.Duration) {
	if m == nil || duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *requestMetrics) SetUserID(id int64) {
	if m == nil {
		return
	}
	m.userID = id
}

// SetOutcome records a handled, non-fatal result such as "denied".
func (m *requestMetrics) SetOutcome(outcome string) {
	if m == nil || outcome == "" {
		return
	}
	m.outcome = outcome
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if m == nil || stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	total := durationToMillis(time.Since(m.start))
	severityText, severityNumber := severityForStatus(status, err)

	attrs := []attribute.KeyValue{
		attribute.String("http.route", m.route),
		attribute.String("http.method", m.method),
		attribute.Int("http.status_code", status),
		attribute.Float64("taskboard.total_ms", total),
		attribute.String("severity_text", severityText),
	}
	fields := log.Fields{
		"route":           m.route,
		"method":          m.method,
		"status":          status,
		"total_ms":        total,
		"severity_text":   severityText,
		"severity_number": severityNumber,
	}
	if m.userID != 0 {
		attrs = append(attrs, attribute.Int64("taskboard.user_id", m.userID))
		fields["user_id"] = m.userID
	}
	if m.authDuration > 0 {
		ms := durationToMillis(m.authDuration)
		attrs = append(attrs, attribute.Float64("taskboard.auth_ms", ms))
		fields["auth_ms"] = ms
	}
	if m.outcome != "" {
		attrs = append(attrs, attribute.String("taskboard.outcome", m.outcome))
		fields["outcome"] = m.outcome
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("taskboard.error_stage", m.errorStage))
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
		fields["error"] = err.Error()
	}

	if m.span != nil {
		m.span.SetAttributes(attrs...)
		m.span.AddEvent(requestEventName, trace.WithAttributes(attrs...))
		if severityText == "ERROR" {
			desc := http.StatusText(status)
			if err != nil {
				desc = err.Error()
			}
			m.span.SetStatus(codes.Error, desc)
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		if sc := m.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	entry := m.logger.WithFields(fields)
	switch severityText {
	case "ERROR":
		entry.Error(requestEventName)
	case "WARN":
		entry.Warn(requestEventName)
	default:
		entry.Info(requestEventName)
	}
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError:
		return "ERROR", 17
	case err != nil && status == 0:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

// observeRequests opens a span and emits one structured log line per request.
func observeRequests(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m, ctx := newRequestMetrics(c.Request().Context(), logger, route, c.Request().Method)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set(metricsContextKey, m)

			err := next(c)

			status := c.Response().Status
			if err != nil && !c.Response().Committed {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}
			m.Log(status, err)
			return err
		}
	}
}

// metricsFrom returns the request's metrics; the methods tolerate nil.
func metricsFrom(c echo.Context) *requestMetrics {
	m, _ := c.Get(metricsContextKey).(*requestMetrics)
	return m
}
