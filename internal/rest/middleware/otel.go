package middleware

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pbinitiative/zenexec/internal/appcontext"
	"github.com/pbinitiative/zenexec/internal/config"
	otelint "github.com/pbinitiative/zenexec/internal/otel"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconvV4 "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

// RequestIdHeader carries the id a request is logged and deduplicated with.
const RequestIdHeader = "X-Request-Id"

// countingBody counts the bytes handlers read from the request body.
type countingBody struct {
	io.ReadCloser
	span trace.Span
	read int64
	err  error
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.read += int64(n)
	b.err = err
	if n > 0 {
		b.span.AddEvent("read", trace.WithAttributes(otelhttp.ReadBytesKey.Int64(int64(n))))
	}
	return n, err
}

// statusRecorder remembers the status code and the bytes written to the client.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
	err     error
}

func (w *statusRecorder) WriteHeader(status int) {
	if w.status != 0 {
		return
	}
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusRecorder) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(p)
	w.written += int64(n)
	w.err = err
	return n, err
}

// Opentelemetry returns middleware that will trace and meter incoming requests.
// Every request gets a request id, either the one sent in X-Request-Id or a
// generated one, which is echoed in the response.
func Opentelemetry(conf config.Config) func(next http.Handler) http.Handler {
	tracer := otel.GetTracerProvider().Tracer("http-request-middleware")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx = appcontext.WithRequestId(ctx, r.Header.Get(RequestIdHeader))
			requestId, _ := appcontext.GetRequestId(ctx)

			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(semconvV4.NetAttributesFromHTTPRequest("tcp", r)...),
				trace.WithAttributes(otelint.RequestIdKey.String(requestId)),
			)
			defer span.End()

			w.Header().Set(RequestIdHeader, requestId)
			otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(w.Header()))
			r = r.WithContext(ctx)
			var body *countingBody
			if r.Body != nil {
				body = &countingBody{ReadCloser: r.Body, span: span}
				r.Body = body
			}
			recorder := &statusRecorder{ResponseWriter: w}

			startTime := time.Now()
			next.ServeHTTP(recorder, r)

			routePattern := chi.RouteContext(r.Context()).RoutePattern()
			if routePattern != "" {
				span.SetName(r.Method + " " + routePattern)
			}
			span.SetAttributes(semconvV4.HTTPServerAttributesFromHTTPRequest(conf.Tracing.Name, routePattern, r)...)
			traceResponse(span, body, recorder)
			meterResponse(r, routePattern, recorder, time.Since(startTime))
		})
	}
}

func traceResponse(span trace.Span, body *countingBody, recorder *statusRecorder) {
	attributes := make([]attribute.KeyValue, 0, 4)
	if body != nil && body.read > 0 {
		attributes = append(attributes, otelint.ReadBytesKey.Int64(body.read))
	}
	if body != nil && body.err != nil && body.err != io.EOF {
		attributes = append(attributes, otelint.ReadErrorKey.String(body.err.Error()))
	}
	if recorder.written > 0 {
		attributes = append(attributes, otelint.WroteBytesKey.Int64(recorder.written))
	}
	if recorder.err != nil && recorder.err != io.EOF {
		attributes = append(attributes, otelint.WriteErrorKey.String(recorder.err.Error()))
		span.RecordError(recorder.err)
	}
	if recorder.status > 0 {
		attributes = append(attributes, semconvV4.HTTPAttributesFromHTTPStatusCode(recorder.status)...)
		span.SetStatus(semconvV4.SpanStatusFromHTTPStatusCode(recorder.status))
	}
	span.SetAttributes(attributes...)
}

func meterResponse(r *http.Request, routePattern string, recorder *statusRecorder, latency time.Duration) {
	// instruments exist once otel is set up
	if otelint.RequestTotal == nil {
		return
	}
	ctx := r.Context()
	tags := metric.WithAttributes(
		attribute.String("path", routePattern),
		attribute.String("method", r.Method),
		attribute.Int("status", recorder.status),
	)
	otelint.RequestTotal.Add(ctx, 1)
	otelint.RequestUriTotal.Add(ctx, 1, tags)
	if r.ContentLength >= 0 {
		otelint.RequestBodySize.Add(ctx, float64(r.ContentLength), tags)
	}
	if recorder.written > 0 {
		otelint.ResponseBodySize.Add(ctx, float64(recorder.written), tags)
	}
	otelint.RequestDuration.Record(ctx, float64(latency.Milliseconds()), tags)
}
