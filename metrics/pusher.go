// Package metrics ships buffered battery readings to a Prometheus
// remote_write endpoint.
package metrics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gogo/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/freeclip/buffer"
	"github.com/mjasion/balena-home/freeclip/telemetry"
	"github.com/mjasion/balena-home/freeclip/types"
)

const maxAttempts = 3

type Config struct {
	URL          string
	Username     string
	Password     string
	PushInterval time.Duration
	BatchSize    int
}

// Pusher periodically drains the reading buffer into remote_write requests
type Pusher struct {
	cfg     Config
	client  *http.Client
	buffer  *buffer.Ring[*types.Reading]
	logger  *zap.Logger
	backoff time.Duration // first retry delay, doubled per attempt

	mu       sync.Mutex
	lastPush time.Time
}

func New(cfg Config, buf *buffer.Ring[*types.Reading], logger *zap.Logger) *Pusher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = 60 * time.Second
	}

	return &Pusher{
		cfg: cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: otelhttp.NewTransport(
				http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(string, *http.Request) string {
					return "prometheus.remote_write"
				}),
			),
		},
		buffer:  buf,
		logger:  logger,
		backoff: time.Second,
	}
}

// Run pushes on every interval until ctx is cancelled
func (p *Pusher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PushInterval)
	defer ticker.Stop()

	p.logger.Info("prometheus pusher started",
		zap.Duration("push_interval", p.cfg.PushInterval),
		zap.Int("batch_size", p.cfg.BatchSize),
	)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("prometheus pusher stopping", zap.Int("pending", p.buffer.Len()))
			return
		case <-ticker.C:
			p.Flush(ctx)
		}
	}
}

// Flush drains the buffer in batches. A failed batch and everything after
// it goes back into the buffer for the next round.
func (p *Pusher) Flush(ctx context.Context) {
	readings := p.buffer.Drain()
	if len(readings) == 0 {
		p.logger.Debug("no readings to push")
		return
	}

	for start := 0; start < len(readings); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(readings))
		if err := p.Push(ctx, readings[start:end]); err != nil {
			p.logger.Error("failed to push batch, re-buffering remaining readings",
				zap.Error(err),
				zap.Int("failed_readings", len(readings)-start),
			)
			p.buffer.AddAll(readings[start:])
			return
		}
	}
}

// Push sends readings, retrying with exponential backoff
func (p *Pusher) Push(ctx context.Context, readings []*types.Reading) error {
	ctx, span := otel.Tracer("metrics").Start(ctx, "metrics.Push",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("metrics.readings", len(readings))),
	)
	defer span.End()

	if len(readings) == 0 {
		span.SetStatus(codes.Ok, "nothing to push")
		return nil
	}

	logger := telemetry.WithTrace(ctx, p.logger)
	req := &prompb.WriteRequest{Timeseries: BuildTimeSeries(ctx, readings)}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = p.pushOnce(ctx, req)
		if lastErr == nil {
			p.mu.Lock()
			p.lastPush = time.Now()
			p.mu.Unlock()

			logger.Info("pushed battery metrics",
				zap.Int("readings", len(readings)),
				zap.Int("time_series", len(req.Timeseries)),
				zap.Int("attempt", attempt),
			)
			span.SetStatus(codes.Ok, "pushed")
			return nil
		}

		logger.Warn("failed to push metrics, will retry",
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
		span.AddEvent("push attempt failed", trace.WithAttributes(attribute.Int("metrics.attempt", attempt)))

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				span.RecordError(ctx.Err())
				span.SetStatus(codes.Error, "context cancelled")
				return ctx.Err()
			case <-time.After(p.backoff << (attempt - 1)):
			}
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "push failed")
	return fmt.Errorf("failed to push metrics after %d attempts: %w", maxAttempts, lastErr)
}

func (p *Pusher) pushOnce(ctx context.Context, writeReq *prompb.WriteRequest) error {
	data, err := proto.Marshal(writeReq)
	if err != nil {
		return fmt.Errorf("failed to marshal protobuf: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(snappy.Encode(nil, data)))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Content-Encoding", "snappy")
	req.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	if p.cfg.Username != "" && p.cfg.Password != "" {
		req.SetBasicAuth(p.cfg.Username, p.cfg.Password)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("received non-2xx status code: %d, body: %s", resp.StatusCode, string(body))
	}
	return nil
}

// LastPushTime returns when the last push succeeded
func (p *Pusher) LastPushTime() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPush
}
