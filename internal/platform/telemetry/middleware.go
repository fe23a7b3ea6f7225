package telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TraceIDHeader carries the trace ID back to the client.
const TraceIDHeader = "X-Trace-Id"

// Middleware starts a server span per request and records request count and
// duration. Mount it before the logging middleware so errors are already
// rendered when the status is read.
func Middleware() echo.MiddlewareFunc {
	tracer := Tracer()
	meter := Meter()

	requestCounter, _ := meter.Int64Counter(
		"http_server_request_count",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	requestDuration, _ := meter.Float64Histogram(
		"http_server_request_duration_ms",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))

			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}
			ctx, span := tracer.Start(ctx, req.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", req.Method),
					attribute.String("http.route", route),
					attribute.String("http.url", req.URL.String()),
					attribute.String("net.host.name", req.Host),
					attribute.String("http.user_agent", req.UserAgent()),
					attribute.String("http.client_ip", c.RealIP()),
				),
			)
			defer span.End()

			c.SetRequest(req.WithContext(ctx))
			if span.SpanContext().HasTraceID() {
				c.Response().Header().Set(TraceIDHeader, span.SpanContext().TraceID().String())
			}

			start := time.Now()
			err := next(c)
			duration := float64(time.Since(start).Microseconds()) / 1000

			status := c.Response().Status
			var he *echo.HTTPError
			if err != nil && !c.Response().Committed {
				status = http.StatusInternalServerError
				if errors.As(err, &he) {
					status = he.Code
				}
			}

			span.SetAttributes(
				attribute.Int("http.status_code", status),
				attribute.Float64("http.duration_ms", duration),
			)
			attrs := metric.WithAttributes(
				attribute.String("http.method", req.Method),
				attribute.String("http.route", route),
				attribute.Int("http.status_code", status),
			)
			requestCounter.Add(ctx, 1, attrs)
			requestDuration.Record(ctx, duration, attrs)

			if status >= 500 {
				span.SetStatus(codes.Error, "HTTP "+strconv.Itoa(status))
				if err != nil {
					span.RecordError(err)
				}
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return err
		}
	}
}
