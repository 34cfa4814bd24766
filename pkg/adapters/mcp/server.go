package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aretw0/canopy"
	"github.com/aretw0/canopy/internal/logging"
	httpadapter "github.com/aretw0/canopy/pkg/adapters/http"
	"github.com/aretw0/canopy/pkg/gradient"
)

// SummaryURI is the resource exposing the chain summary.
const SummaryURI = "canopy://summary"

// Engine is the part of canopy.Engine exposed to MCP clients.
type Engine interface {
	Statistics() ([]canopy.StatisticValue, error)
	Statistic(name string) (canopy.StatisticValue, error)
	TraitKeys() []string
	Trait(key string) ([][]float64, error)
	Groups() ([]canopy.Group, error)
	GradientReport(tolerance float64) (gradient.Report, error)
	Summary() (canopy.Summary, error)
	Run(ctx context.Context, steps int) error
}

var _ Engine = (*canopy.Engine)(nil)

// Server wraps an engine and exposes it as an MCP server.
type Server struct {
	engine    Engine
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a new MCP server for the engine.
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{
		engine:    engine,
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("canopy-mcp", strings.TrimSpace(canopy.Version)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

// ServeStdio serves on stdin and stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves on the given port using SSE until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Info("shutting down MCP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("summary",
		mcp.WithDescription("Summarise the chain: step, log posterior, acceptance rates and current tree."),
	), s.handleSummary)

	s.mcpServer.AddTool(mcp.NewTool("list_statistics",
		mcp.WithDescription("Evaluate every registered statistic."),
	), s.handleListStatistics)

	s.mcpServer.AddTool(mcp.NewTool("get_statistic",
		mcp.WithDescription("Evaluate one statistic by name."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Statistic name, e.g. groups.count")),
	), s.handleGetStatistic)

	s.mcpServer.AddTool(mcp.NewTool("list_traits",
		mcp.WithDescription("List the per-node trait keys served by delegates."),
	), s.handleListTraits)

	s.mcpServer.AddTool(mcp.NewTool("get_trait",
		mcp.WithDescription("Fetch the rows of one trait, indexed by node number."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Trait key, e.g. grad.tips")),
	), s.handleGetTrait)

	s.mcpServer.AddTool(mcp.NewTool("get_groups",
		mcp.WithDescription("List the current tip partition."),
	), s.handleGetGroups)

	s.mcpServer.AddTool(mcp.NewTool("gradient_report",
		mcp.WithDescription("Compare the analytic tip gradient with central finite differences."),
		mcp.WithNumber("tolerance", mcp.Description("Largest accepted difference (optional)")),
	), s.handleGradientReport)

	s.mcpServer.AddTool(mcp.NewTool("run",
		mcp.WithDescription("Advance the chain by a number of steps."),
		mcp.WithNumber("steps", mcp.Required(), mcp.Description("Number of steps, at most 100000")),
	), s.handleRun)
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(SummaryURI, "Chain summary",
		mcp.WithMIMEType("text/plain"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		sum, err := s.engine.Summary()
		if err != nil {
			return nil, fmt.Errorf("summary failed: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      SummaryURI,
				MIMEType: "text/plain",
				Text:     describe(sum),
			},
		}, nil
	})
}

// encode renders v as JSON. Only used for values that are always finite.
func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(b), nil
}

func (s *Server) result(tool string, v any, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		s.logger.Debug("MCP tool failed", "tool", tool, "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", tool, err)), nil
	}
	text, err := encode(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", tool, err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleSummary(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sum, err := s.engine.Summary()
	if err == nil {
		return mcp.NewToolResultText(describe(sum)), nil
	}
	return s.result("summary", nil, err)
}

func (s *Server) handleListStatistics(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.engine.Statistics()
	if err != nil {
		return s.result("list_statistics", nil, err)
	}
	var b strings.Builder
	for _, st := range stats {
		fmt.Fprintf(&b, "%s: %s\n", st.Name, formatRow(st.Values))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleGetStatistic(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	st, err := s.engine.Statistic(name)
	if err != nil {
		return s.result("get_statistic", nil, err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s: %s", st.Name, formatRow(st.Values))), nil
}

func (s *Server) handleListTraits(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	keys := s.engine.TraitKeys()
	if keys == nil {
		keys = []string{}
	}
	return s.result("list_traits", keys, nil)
}

func (s *Server) handleGetTrait(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := request.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rows, err := s.engine.Trait(key)
	if err != nil {
		return s.result("get_trait", nil, err)
	}
	var b strings.Builder
	for i, row := range rows {
		fmt.Fprintf(&b, "%d: %s\n", i, formatRow(row))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleGetGroups(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	groups, err := s.engine.Groups()
	return s.result("get_groups", groups, err)
}

func (s *Server) handleGradientReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tolerance := request.GetFloat("tolerance", 0)
	if tolerance < 0 {
		return mcp.NewToolResultError("tolerance must be positive"), nil
	}
	rep, err := s.engine.GradientReport(tolerance)
	if err != nil {
		return s.result("gradient_report", nil, err)
	}
	return mcp.NewToolResultText(rep.String()), nil
}

func (s *Server) handleRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	steps := request.GetInt("steps", 0)
	if steps <= 0 || steps > httpadapter.MaxRunSteps {
		return mcp.NewToolResultError(fmt.Sprintf("steps must be in [1, %d]", httpadapter.MaxRunSteps)), nil
	}
	if err := s.engine.Run(ctx, steps); err != nil {
		return s.result("run", nil, err)
	}
	return s.handleSummary(ctx, request)
}

func describe(sum canopy.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\nchain: %s\nstep: %d\nlog posterior: %g\n",
		sum.Scenario, sum.ChainID, sum.Step, sum.LogPosterior)
	for _, name := range slices.Sorted(maps.Keys(sum.Acceptance)) {
		st := sum.Acceptance[name]
		fmt.Fprintf(&b, "%s: %d/%d accepted, %d failed\n", name, st.Accepted, st.Proposed, st.Failed)
	}
	fmt.Fprintf(&b, "tree: %s\n", sum.Newick)
	return b.String()
}

func formatRow(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(x, 'g', -1, 64)
	}
	return strings.Join(parts, " ")
}
