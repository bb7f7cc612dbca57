package webhook

import (
	"context"
	"log/slog"

	"github.com/orchid-run/orchid/pkg/protocol"
)

// Factory creates webhook triggers bound to one shared server.
type Factory struct {
	server *Server
}

func NewFactory(server *Server) *Factory {
	return &Factory{server: server}
}

func (f *Factory) ID() string {
	return Source
}

func (f *Factory) Create(ctx context.Context, config map[string]any, logger *slog.Logger) (protocol.Trigger, error) {
	return NewTrigger(ctx, f.server, config, logger)
}
