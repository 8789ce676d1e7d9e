package handlers

import (
	"net/http"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/askdb-inc/askdb-engine/pkg/auth"
	"github.com/askdb-inc/askdb-engine/pkg/mcp"
)

// MCPHandler handles MCP protocol requests over HTTP.
type MCPHandler struct {
	httpServer *server.StreamableHTTPServer
	logger     *zap.Logger
}

// NewMCPHandler creates a new MCP handler from an MCP server.
func NewMCPHandler(mcpServer *mcp.Server, logger *zap.Logger) *MCPHandler {
	return &MCPHandler{
		httpServer: mcpServer.NewStreamableHTTPServer(),
		logger:     logger,
	}
}

// RegisterRoutes registers the MCP endpoint. MCP over HTTP streaming uses
// POST for JSON-RPC requests; the method pattern rejects everything else
// before authentication runs.
func (h *MCPHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /mcp", authMiddleware.RequireAuth(h.serve))
}

func (h *MCPHandler) serve(w http.ResponseWriter, r *http.Request) {
	h.httpServer.ServeHTTP(w, r)
}
