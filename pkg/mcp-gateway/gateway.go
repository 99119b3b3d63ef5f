package mcpgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"

	"github.com/vikashloomba/mcp-hub-go/pkg/mcpmgr"
)

const protectedResourcePath = "/.well-known/oauth-protected-resource"

// Gateway exposes a Streamable MCP server that fronts every enabled, connected
// provider of a Manager under a single HTTP endpoint.
type Gateway struct {
	manager *mcpmgr.Manager
	opts    Options

	features *featureIndex

	server        *mcp.Server
	streamHandler http.Handler
	mux           *http.ServeMux
	httpHandler   http.Handler

	// syncMu serializes feature mirroring.
	syncMu sync.Mutex

	httpServerMu sync.Mutex
	httpServer   *http.Server
}

// NewGateway builds a Gateway, mirrors the current providers, and subscribes
// to the manager so later changes are mirrored too.
func NewGateway(mgr *mcpmgr.Manager, opts *Options) (*Gateway, error) {
	if mgr == nil {
		return nil, fmt.Errorf("mcpgateway: manager is required")
	}
	options := opts.withDefaults()
	if options.TokenOptions != nil && options.TokenVerifier == nil {
		return nil, fmt.Errorf("mcpgateway: TokenOptions requires a TokenVerifier")
	}
	g := &Gateway{
		manager:  mgr,
		opts:     options,
		features: newFeatureIndex(options.Namespace),
	}

	g.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{
		HasTools:     true,
		HasResources: true,
	})
	g.streamHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.server
	}, &options.Streamable)
	g.mountHandler()

	mgr.Subscribe(g.onProviderEvent)
	g.SyncAll()
	return g, nil
}

// Handler exposes the HTTP handler that serves the Streamable endpoint.
func (g *Gateway) Handler() http.Handler {
	return g.httpHandler
}

// ServeMux returns the mux behind Handler so callers can add routes.
func (g *Gateway) ServeMux() *http.ServeMux {
	return g.mux
}

// Server returns the underlying MCP server.
func (g *Gateway) Server() *mcp.Server {
	return g.server
}

// Options returns the effective options.
func (g *Gateway) Options() Options {
	return g.opts
}

// ListenAndServe runs an HTTP server until the provided context is cancelled or
// the server stops.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	g.httpServerMu.Lock()
	if g.httpServer != nil {
		serv := g.httpServer
		g.httpServerMu.Unlock()
		return fmt.Errorf("mcpgateway: server already running on %s", serv.Addr)
	}
	srv := &http.Server{Addr: g.opts.Addr, Handler: g.Handler()}
	g.httpServer = srv
	g.httpServerMu.Unlock()
	defer func() {
		g.httpServerMu.Lock()
		if g.httpServer == srv {
			g.httpServer = nil
		}
		g.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	g.opts.Logger.Info("gateway listening", "addr", g.opts.Addr, "path", g.opts.Path)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.opts.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.httpServerMu.Lock()
	srv := g.httpServer
	g.httpServer = nil
	g.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// SyncAll mirrors every provider and drops features of providers the manager
// no longer knows.
func (g *Gateway) SyncAll() {
	names := make(map[string]struct{})
	for _, state := range g.manager.Providers() {
		names[state.Name] = struct{}{}
	}
	for _, name := range g.features.Providers() {
		names[name] = struct{}{}
	}
	for name := range names {
		g.SyncProvider(name)
	}
}

// SyncProvider mirrors one provider. Disabled, disconnected, and unknown
// providers have their features removed.
func (g *Gateway) SyncProvider(name string) {
	g.syncMu.Lock()
	defer g.syncMu.Unlock()

	var (
		tools     []mcpmgr.Tool
		resources []mcpmgr.Resource
		templates []mcpmgr.ResourceTemplate
	)
	if state, ok := g.manager.Provider(name); ok && !state.Disabled && state.Status == mcpmgr.StatusConnected {
		tools, resources, templates = state.Tools, state.Resources, state.ResourceTemplates
	}

	removedTools, addedTools := g.features.UpdateTools(name, tools)
	if len(removedTools) > 0 {
		g.server.RemoveTools(removedTools...)
	}
	for _, tool := range addedTools {
		g.server.AddTool(tool, g.callTool)
	}

	removedResources, addedResources := g.features.UpdateResources(name, resources)
	if len(removedResources) > 0 {
		g.server.RemoveResources(removedResources...)
	}
	for _, resource := range addedResources {
		g.server.AddResource(resource, g.readMirroredResource)
	}

	removedTemplates, addedTemplates := g.features.UpdateResourceTemplates(name, templates)
	if len(removedTemplates) > 0 {
		g.server.RemoveResourceTemplates(removedTemplates...)
	}
	for _, tpl := range addedTemplates {
		g.server.AddResourceTemplate(tpl, g.readMirroredTemplate)
	}

	g.opts.Logger.Debug("gateway mirrored provider",
		"provider", name,
		"tools", len(addedTools),
		"resources", len(addedResources),
		"templates", len(addedTemplates))
}

func (g *Gateway) onProviderEvent(event mcpmgr.ProviderEvent) {
	g.SyncProvider(event.Name)
}

// callTool resolves the downstream name through the feature index and routes
// the call through the manager so the disabled guard and the provider timeout
// apply. Manager errors are reported as tool errors.
func (g *Gateway) callTool(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target, ok := g.features.ToolTarget(req.Params.Name)
	if !ok {
		return toolError(fmt.Sprintf("tool %q is not mirrored by any provider", req.Params.Name)), nil
	}
	var args any
	if len(req.Params.Arguments) > 0 {
		args = req.Params.Arguments
	}
	res, err := g.manager.CallTool(ctx, target.Provider, target.NativeName, args)
	if err != nil {
		g.logError("tool call", err, "provider", target.Provider, "tool", target.NativeName)
		return toolError(err.Error()), nil
	}
	return res, nil
}

func toolError(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func (g *Gateway) readMirroredResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	target, ok := g.features.ResourceTarget(req.Params.URI)
	if !ok {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	return g.readResource(ctx, target.Provider, target.NativeURI)
}

func (g *Gateway) readMirroredTemplate(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	target, native, ok := g.features.TemplateTarget(req.Params.URI)
	if !ok {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	return g.readResource(ctx, target.Provider, native)
}

func (g *Gateway) readResource(ctx context.Context, provider, uri string) (*mcp.ReadResourceResult, error) {
	res, err := g.manager.ReadResource(ctx, provider, uri)
	if err != nil {
		if errors.Is(err, mcpmgr.ErrNotFound) {
			return nil, mcp.ResourceNotFoundError(uri)
		}
		return nil, err
	}
	return res, nil
}

func (g *Gateway) mountHandler() {
	path := g.opts.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	endpoint := g.streamHandler
	if g.opts.TokenVerifier != nil {
		endpoint = auth.RequireBearerToken(g.opts.TokenVerifier, g.opts.TokenOptions)(endpoint)
	}

	g.mux = http.NewServeMux()
	g.mux.Handle(path, endpoint)
	if !strings.HasSuffix(path, "/") {
		g.mux.Handle(path+"/", endpoint)
	}
	if g.opts.AuthorizationServer != "" {
		g.mux.Handle(protectedResourcePath, cors.AllowAll().Handler(http.HandlerFunc(g.serveProtectedResource)))
	}

	g.httpHandler = g.mux
	if g.opts.CORS != nil {
		g.httpHandler = cors.New(*g.opts.CORS).Handler(g.mux)
	}
}

// serveProtectedResource publishes OAuth protected resource metadata for the
// MCP endpoint.
func (g *Gateway) serveProtectedResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	metadata := struct {
		Resource             string   `json:"resource"`
		AuthorizationServers []string `json:"authorization_servers"`
		ScopesSupported      []string `json:"scopes_supported,omitempty"`
	}{
		Resource:             scheme + "://" + r.Host + g.opts.Path,
		AuthorizationServers: []string{g.opts.AuthorizationServer},
	}
	if g.opts.TokenOptions != nil {
		metadata.ScopesSupported = g.opts.TokenOptions.Scopes
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(metadata); err != nil {
		g.logError("encode protected resource metadata", err)
	}
}

func (g *Gateway) logError(msg string, err error, args ...any) {
	if err == nil {
		return
	}
	attrs := append([]any{"error", err}, args...)
	g.opts.Logger.Error(msg, attrs...)
}
