package engine

import (
	"context"
	"log/slog"

	"github.com/orchid-run/orchid/pkg/protocol"
)

// SlogSink writes observability records as structured log lines.
type SlogSink struct {
	logger *slog.Logger
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger.With("module", "sink")}
}

func (s *SlogSink) Emit(ctx context.Context, record protocol.SinkRecord) {
	s.logger.InfoContext(ctx, "Run transition",
		"event", record.Event,
		"run_id", record.RunID,
		"workflow_id", record.WorkflowID,
		"node_id", record.NodeID,
		"duration_ms", record.DurationMs)
}

// MultiSink fans one record out to several sinks.
type MultiSink []protocol.Sink

func (m MultiSink) Emit(ctx context.Context, record protocol.SinkRecord) {
	for _, sink := range m {
		sink.Emit(ctx, record)
	}
}

// NopSink discards records.
type NopSink struct{}

func (NopSink) Emit(context.Context, protocol.SinkRecord) {}
