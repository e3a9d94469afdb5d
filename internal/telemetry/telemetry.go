// Package telemetry turns the engine's debugger hook into OpenTelemetry
// spans: one span per node execution, parented on the node's tree
// parent when that span is still open.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/wforney/corewf-sub005/internal/engine"
)

// Setup installs a tracer provider and returns its shutdown hook along
// with an observer wired to it. Exporters are attached by the caller
// through the provider options.
func Setup(service string, opts ...sdktrace.TracerProviderOption) (*Observer, func(context.Context) error) {
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return NewObserver(otel.Tracer(service)), tp.Shutdown
}

// Observer implements engine.Observer by opening a span per executing
// node and closing it when the node reaches a terminal substate.
type Observer struct {
	tracer trace.Tracer
	spans  sync.Map // instance id -> trace.Span
}

var _ engine.Observer = (*Observer)(nil)

// NewObserver wraps a tracer.
func NewObserver(tracer trace.Tracer) *Observer {
	return &Observer{tracer: tracer}
}

// NodeStarting opens the node's span.
func (o *Observer) NodeStarting(info engine.NodeInfo) {
	parent := context.Background()
	if v, ok := o.spans.Load(info.ParentID); ok {
		parent = trace.ContextWithSpan(parent, v.(trace.Span))
	}
	_, span := o.tracer.Start(parent, "node.execute")
	span.SetAttributes(
		attribute.String("workflow.node.id", info.ID),
		attribute.String("workflow.node.activity", info.Activity),
	)
	o.spans.Store(info.ID, span)
}

// NodeFinished closes the node's span with its terminal substate.
func (o *Observer) NodeFinished(info engine.NodeInfo) {
	v, ok := o.spans.LoadAndDelete(info.ID)
	if !ok {
		return
	}
	span := v.(trace.Span)
	span.SetAttributes(attribute.String("workflow.node.substate", string(info.Substate)))
	if info.Fault != nil {
		span.RecordError(info.Fault)
	}
	span.End()
}
