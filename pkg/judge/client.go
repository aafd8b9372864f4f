package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	judgeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "praktikum",
		Subsystem: "judge",
		Name:      "request_duration_seconds",
		Help:      "Duration of judge engine requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"language"})

	judgeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "praktikum",
		Subsystem: "judge",
		Name:      "request_failures_total",
		Help:      "Number of judge requests that failed",
	}, []string{"language", "reason"})
)

const maxResponseBytes = 8 << 20

// Config groups judge client configuration values.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// HTTPClient talks to the judge engine over HTTP.
type HTTPClient struct {
	endpoint string
	apiKey   string
	http     *http.Client
	tracer   trace.Tracer
	logger   zerolog.Logger
}

// NewHTTPClient constructs a judge client posting to <BaseURL>/judge.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("judge base url is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &HTTPClient{
		endpoint: base + "/judge",
		apiKey:   cfg.APIKey,
		http:     httpClient,
		tracer:   otel.Tracer("github.com/noah-isme/gema-praktikum-api/pkg/judge"),
		logger:   logger,
	}, nil
}

// Judge sends the request and decodes the verdict.
func (c *HTTPClient) Judge(parent context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Code) == "" {
		return Response{}, fmt.Errorf("%w: code is empty", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Language) == "" {
		return Response{}, fmt.Errorf("%w: language is empty", ErrInvalidRequest)
	}

	ctx, span := c.tracer.Start(parent, "judge.request", trace.WithAttributes(
		attribute.String("judge.language", req.Language),
		attribute.Int("judge.test_cases", len(req.TestCases)),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		judgeDuration.WithLabelValues(req.Language).Observe(time.Since(start).Seconds())
	}()

	fail := func(reason string, err error) (Response, error) {
		judgeFailures.WithLabelValues(req.Language, reason).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		return Response{}, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fail("encode", fmt.Errorf("encode judge request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fail("build", fmt.Errorf("build judge request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Response{}, err
		}
		return fail("network", &TransportError{Op: "post", Err: err})
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fail("read", &TransportError{Op: "read", StatusCode: resp.StatusCode, Err: err})
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return fail("server_error", &TransportError{Op: "post", StatusCode: resp.StatusCode, Err: errors.New(snippet(payload))})
	case resp.StatusCode >= http.StatusBadRequest:
		return fail("rejected", fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, snippet(payload)))
	}

	var decoded Response
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fail("decode", &TransportError{Op: "decode", StatusCode: resp.StatusCode, Err: err})
	}
	decoded.Raw = payload

	c.logger.Debug().
		Str("language", req.Language).
		Str("status", decoded.Status).
		Int("total_case", decoded.TotalCase).
		Int("total_case_benar", decoded.TotalCaseBenar).
		Dur("elapsed", time.Since(start)).
		Msg("judge responded")

	return decoded, nil
}

func snippet(payload []byte) string {
	const limit = 256
	text := strings.TrimSpace(string(payload))
	if len(text) > limit {
		return text[:limit] + "..."
	}
	return text
}
