// SPDX-License-Identifier: AGPL-3.0-only

// Package rpcserver implements Component F: the RPC surface. It advertises
// the {tools, sampling} capabilities, dispatches the tool catalogue to the
// scheduler core, and exposes a reverse-RPC client the execution driver uses
// to request sampling from the connected peer.
package rpcserver

import (
	"context"
	"fmt"
	"time"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"github.com/ThinkInAIXYZ/go-mcp/server"
	"github.com/ThinkInAIXYZ/go-mcp/transport"
	"github.com/google/uuid"

	"github.com/scheduletask/mcp-server/internal/apperrors"
	"github.com/scheduletask/mcp-server/internal/config"
	"github.com/scheduletask/mcp-server/internal/logging"
	"github.com/scheduletask/mcp-server/internal/model"
	"github.com/scheduletask/mcp-server/internal/scheduler"
	"github.com/scheduletask/mcp-server/internal/timeutil"
)

// Scheduler is the subset of *scheduler.Scheduler the RPC surface depends
// on. Declaring a consumer-side interface (rather than importing the
// concrete type directly into every handler signature) keeps tool-call
// handlers mockable, per the teacher's MockScheduler pattern.
type Scheduler interface {
	Create(ctx context.Context, params scheduler.CreateParams) (*model.Task, error)
	Update(ctx context.Context, id string, patch scheduler.UpdatePatch) (*model.Task, error)
	Pause(ctx context.Context, id string) (*model.Task, error)
	Resume(ctx context.Context, id string) (*model.Task, error)
	Delete(ctx context.Context, id string) (bool, error)
	Execute(ctx context.Context, id string) (*model.Task, error)
	ClearHistory(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*model.Task, error)
	List(ctx context.Context) ([]*model.Task, error)
	Describe(task *model.Task) *scheduler.Described
}

// Server is the MCP RPC surface.
type Server struct {
	sched  Scheduler
	cfg    *config.Config
	log    *logging.Logger
	server *server.Server
}

// New constructs the RPC surface bound to sched, but does not start serving.
func New(cfg *config.Config, sched Scheduler, log *logging.Logger) (*Server, error) {
	if log == nil {
		log = logging.GetDefaultLogger()
	}
	s := &Server{sched: sched, cfg: cfg, log: log}

	var svrTransport transport.ServerTransport
	var err error
	switch cfg.Server.TransportMode {
	case "stdio":
		svrTransport = transport.NewStdioServerTransport()
	case "sse":
		addr := fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)
		svrTransport, err = transport.NewSSEServerTransport(addr)
		if err != nil {
			return nil, apperrors.Internal(err)
		}
	default:
		return nil, apperrors.InvalidInput("unsupported transport mode: " + cfg.Server.TransportMode)
	}

	s.server, err = server.NewServer(
		svrTransport,
		server.WithServerInfo(protocol.Implementation{
			Name:    cfg.Server.Name,
			Version: cfg.Server.Version,
		}),
	)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	s.registerTools()
	return s, nil
}

// Run blocks serving inbound requests until Shutdown is called.
func (s *Server) Run() error {
	s.log.Infof("serving on %s transport", s.cfg.Server.TransportMode)
	return s.server.Run()
}

// Shutdown stops accepting new inbound RPCs, per §4.G's reverse teardown order.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// CreateMessage implements execution.Sampler: it issues a sampling/createMessage
// reverse RPC to the connected peer and extracts the response text.
func (s *Server) CreateMessage(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	id := uuid.NewString()

	req := &protocol.CreateMessageRequest{
		Messages: []*protocol.SamplingMessage{
			{
				Role:    "user",
				Content: &protocol.TextContent{Type: "text", Text: prompt},
			},
		},
		IncludeContext: "allServers",
		MaxTokens:      2000,
	}

	s.log.Debugf("sampling request %s: issuing createMessage", id)
	result, err := s.server.Sampling(ctx, req)
	if err != nil {
		return "", err
	}
	if text, ok := result.Content.(*protocol.TextContent); ok && text.Text != "" {
		return text.Text, nil
	}
	return fmt.Sprintf("%v", result.Content), nil
}

func (s *Server) zone() *time.Location {
	return timeutil.ResolveZone(s.cfg.Scheduler.Timezone)
}
