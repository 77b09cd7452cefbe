// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EmbeddedConfig configures the embedded tracer.
type EmbeddedConfig struct {
	// MaxSpans bounds the in-memory ring buffer of completed spans kept for
	// inspection (default 10,000). Oldest spans are dropped once full — the
	// embedded tracer is for local debugging, not durable trace storage.
	MaxSpans int

	// Logger for embedded tracer (optional).
	Logger *zap.Logger
}

// DefaultEmbeddedConfig returns sensible defaults for embedded mode.
func DefaultEmbeddedConfig() *EmbeddedConfig {
	return &EmbeddedConfig{
		MaxSpans: 10000,
	}
}

// EmbeddedTracer implements Tracer by keeping a bounded in-memory ring
// buffer of completed spans and logging metrics/events through zap —
// enough to inspect the broker's channel publishes (the one instrumented
// path) during local development without standing up an external
// collector.
type EmbeddedTracer struct {
	config *EmbeddedConfig
	logger *zap.Logger

	mu    sync.Mutex
	spans []*Span
}

// NewEmbeddedTracer creates a new embedded tracer with an in-process ring
// buffer of recent spans.
func NewEmbeddedTracer(config *EmbeddedConfig) (*EmbeddedTracer, error) {
	if config == nil {
		config = DefaultEmbeddedConfig()
	}
	if config.MaxSpans <= 0 {
		config.MaxSpans = DefaultEmbeddedConfig().MaxSpans
	}

	logger := config.Logger
	if logger == nil {
		var err error
		logger, err = zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("observability: create logger: %w", err)
		}
	}

	return &EmbeddedTracer{
		config: config,
		logger: logger,
		spans:  make([]*Span, 0, config.MaxSpans),
	}, nil
}

// StartSpan creates a new tracing span.
func (t *EmbeddedTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, *Span) {
	span := &Span{
		TraceID:    uuid.New().String(),
		SpanID:     uuid.New().String(),
		Name:       name,
		StartTime:  time.Now(),
		Attributes: make(map[string]interface{}),
	}

	for _, opt := range opts {
		opt(span)
	}

	if parent := SpanFromContext(ctx); parent != nil {
		span.TraceID = parent.TraceID
		span.ParentID = parent.SpanID
	}

	return ContextWithSpan(ctx, span), span
}

// EndSpan completes a tracing span and appends it to the ring buffer,
// evicting the oldest entry once MaxSpans is reached.
func (t *EmbeddedTracer) EndSpan(span *Span) {
	if span == nil {
		return
	}

	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)

	t.mu.Lock()
	if len(t.spans) >= t.config.MaxSpans {
		t.spans = append(t.spans[1:], span)
	} else {
		t.spans = append(t.spans, span)
	}
	t.mu.Unlock()

	t.logger.Debug("span completed",
		zap.String("span_id", span.SpanID),
		zap.String("operation", span.Name),
		zap.Duration("duration", span.Duration),
	)
}

// RecordMetric records a point-in-time metric.
func (t *EmbeddedTracer) RecordMetric(name string, value float64, labels map[string]string) {
	t.logger.Debug("metric recorded",
		zap.String("name", name),
		zap.Float64("value", value),
		zap.Any("labels", labels),
	)
}

// RecordEvent records a standalone event.
func (t *EmbeddedTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	t.logger.Debug("event recorded",
		zap.String("name", name),
		zap.Any("attributes", attributes),
	)
}

// Flush is a no-op: the embedded tracer has nothing buffered externally,
// spans live only in the in-process ring buffer. Satisfies the Tracer
// interface for parity with implementations that do export somewhere.
func (t *EmbeddedTracer) Flush(ctx context.Context) error {
	return nil
}

// RecentSpans returns up to limit of the most recently completed spans,
// newest first, for ad hoc inspection (e.g. a future admin RPC). Returns a
// copy so callers can't mutate the tracer's internal buffer.
func (t *EmbeddedTracer) RecentSpans(limit int) []*Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limit <= 0 || limit > len(t.spans) {
		limit = len(t.spans)
	}
	out := make([]*Span, limit)
	for i := 0; i < limit; i++ {
		out[i] = t.spans[len(t.spans)-1-i]
	}
	return out
}

// Compile-time interface check
var _ Tracer = (*EmbeddedTracer)(nil)
