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
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNewEmbeddedTracer_Defaults(t *testing.T) {
	tracer, err := NewEmbeddedTracer(nil)
	if err != nil {
		t.Fatalf("Failed to create embedded tracer: %v", err)
	}

	if tracer.config.MaxSpans != 10000 {
		t.Errorf("Expected default MaxSpans 10000, got %d", tracer.config.MaxSpans)
	}
}

func TestEmbeddedTracer_StartEndSpan(t *testing.T) {
	tracer, err := NewEmbeddedTracer(DefaultEmbeddedConfig())
	if err != nil {
		t.Fatalf("Failed to create tracer: %v", err)
	}

	ctx := context.Background()
	_, span := tracer.StartSpan(ctx, SpanRPCCall,
		WithAttribute("test_key", "test_value"),
	)

	if span == nil {
		t.Fatal("Expected span to be created")
	}
	if span.Name != SpanRPCCall {
		t.Errorf("Expected name %q, got %q", SpanRPCCall, span.Name)
	}
	if span.Attributes["test_key"] != "test_value" {
		t.Error("Expected attribute to be set")
	}

	time.Sleep(10 * time.Millisecond)

	tracer.EndSpan(span)

	if span.Duration == 0 {
		t.Error("Expected duration to be calculated")
	}
	if got := tracer.RecentSpans(1); len(got) != 1 || got[0] != span {
		t.Error("Expected ended span to be retained in the ring buffer")
	}
}

func TestEmbeddedTracer_SpanHierarchy(t *testing.T) {
	tracer, err := NewEmbeddedTracer(DefaultEmbeddedConfig())
	if err != nil {
		t.Fatalf("Failed to create tracer: %v", err)
	}

	ctx := context.Background()

	ctx, parentSpan := tracer.StartSpan(ctx, SpanAgentTurn)
	if parentSpan.ParentID != "" {
		t.Error("Expected parent span to have no parent")
	}

	_, childSpan := tracer.StartSpan(ctx, SpanToolDiscover)
	if childSpan.ParentID != parentSpan.SpanID {
		t.Errorf("Expected child parent ID %s, got %s", parentSpan.SpanID, childSpan.ParentID)
	}
	if childSpan.TraceID != parentSpan.TraceID {
		t.Error("Expected child to inherit parent's trace ID")
	}

	tracer.EndSpan(childSpan)
	tracer.EndSpan(parentSpan)
}

func TestEmbeddedTracer_ErrorRecording(t *testing.T) {
	tracer, err := NewEmbeddedTracer(DefaultEmbeddedConfig())
	if err != nil {
		t.Fatalf("Failed to create tracer: %v", err)
	}

	ctx := context.Background()
	_, span := tracer.StartSpan(ctx, SpanRPCCall)

	span.RecordError(context.DeadlineExceeded)

	if span.Status.Code != StatusError {
		t.Error("Expected status code to be StatusError")
	}

	tracer.EndSpan(span)
}

func TestEmbeddedTracer_RingBufferEviction(t *testing.T) {
	tracer, err := NewEmbeddedTracer(&EmbeddedConfig{MaxSpans: 3})
	if err != nil {
		t.Fatalf("Failed to create tracer: %v", err)
	}

	ctx := context.Background()
	var last *Span
	for i := 0; i < 5; i++ {
		_, span := tracer.StartSpan(ctx, SpanBrokerPublish)
		tracer.EndSpan(span)
		last = span
	}

	got := tracer.RecentSpans(10)
	if len(got) != 3 {
		t.Fatalf("Expected ring buffer capped at 3, got %d", len(got))
	}
	if got[0] != last {
		t.Error("Expected most recently ended span first")
	}
}

func TestEmbeddedTracer_ConcurrentSpans(t *testing.T) {
	tracer, err := NewEmbeddedTracer(DefaultEmbeddedConfig())
	if err != nil {
		t.Fatalf("Failed to create tracer: %v", err)
	}

	const numSpans = 10

	done := make(chan struct{})
	for i := 0; i < numSpans; i++ {
		go func(idx int) {
			defer func() { done <- struct{}{} }()
			_, span := tracer.StartSpan(context.Background(), SpanBrokerDeliver)
			time.Sleep(time.Millisecond)
			span.SetAttribute("index", idx)
			tracer.EndSpan(span)
		}(i)
	}

	for i := 0; i < numSpans; i++ {
		<-done
	}

	if got := tracer.RecentSpans(0); len(got) != numSpans {
		t.Errorf("Expected %d spans recorded, got %d", numSpans, len(got))
	}
}

func TestEmbeddedTracer_RecordMetric(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	tracer, err := NewEmbeddedTracer(&EmbeddedConfig{Logger: logger})
	if err != nil {
		t.Fatalf("Failed to create tracer: %v", err)
	}

	tracer.RecordMetric(MetricRPCLatency, 42.0, map[string]string{
		"label": "value",
	})
}

func TestEmbeddedTracer_RecordEvent(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	tracer, err := NewEmbeddedTracer(&EmbeddedConfig{Logger: logger})
	if err != nil {
		t.Fatalf("Failed to create tracer: %v", err)
	}

	tracer.RecordEvent(context.Background(), "test.event", map[string]interface{}{
		"key": "value",
	})
}

func TestEmbeddedTracer_Flush(t *testing.T) {
	tracer, err := NewEmbeddedTracer(DefaultEmbeddedConfig())
	if err != nil {
		t.Fatalf("Failed to create tracer: %v", err)
	}

	if err := tracer.Flush(context.Background()); err != nil {
		t.Errorf("Expected Flush to be a no-op, got error: %v", err)
	}
}

func TestDefaultEmbeddedConfig(t *testing.T) {
	config := DefaultEmbeddedConfig()

	if config.MaxSpans != 10000 {
		t.Errorf("Expected MaxSpans 10000, got %d", config.MaxSpans)
	}
}

func BenchmarkEmbeddedTracer_StartEndSpan(b *testing.B) {
	tracer, err := NewEmbeddedTracer(DefaultEmbeddedConfig())
	if err != nil {
		b.Fatalf("Failed to create tracer: %v", err)
	}

	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var span *Span
		ctx, span = tracer.StartSpan(ctx, SpanAgentTurn)
		tracer.EndSpan(span)
	}
}

func BenchmarkEmbeddedTracer_WithAttributes(b *testing.B) {
	tracer, err := NewEmbeddedTracer(DefaultEmbeddedConfig())
	if err != nil {
		b.Fatalf("Failed to create tracer: %v", err)
	}

	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var span *Span
		ctx, span = tracer.StartSpan(ctx, SpanAgentTurn,
			WithAttribute("key1", "value1"),
			WithAttribute("key2", 42),
			WithAttribute("key3", true),
		)
		tracer.EndSpan(span)
	}
}
