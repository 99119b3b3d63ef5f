package mcpmgr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Session is the protocol client of a connection. *mcp.ClientSession
// satisfies it.
type Session interface {
	ListTools(context.Context, *mcp.ListToolsParams) (*mcp.ListToolsResult, error)
	ListResources(context.Context, *mcp.ListResourcesParams) (*mcp.ListResourcesResult, error)
	ListResourceTemplates(context.Context, *mcp.ListResourceTemplatesParams) (*mcp.ListResourceTemplatesResult, error)
	ReadResource(context.Context, *mcp.ReadResourceParams) (*mcp.ReadResourceResult, error)
	CallTool(context.Context, *mcp.CallToolParams) (*mcp.CallToolResult, error)
	Close() error
	Wait() error
}

// Handle is a spawned provider whose protocol handshake has not run yet. The
// diagnostic sink passed to Spawn is live before Handshake is called.
type Handle interface {
	// Handshake performs the initialize exchange. It may be called once; a
	// second call fails with ErrHandshakeUsed.
	Handshake(ctx context.Context) (Session, error)
	// Close releases the process and pipes. It is safe to call after the
	// Session has been closed, and more than once.
	Close() error
}

// ListChange identifies a list_changed notification sent by a provider.
type ListChange string

const (
	ToolsChanged     ListChange = "tools"
	ResourcesChanged ListChange = "resources"
)

// SpawnRequest carries everything a Launcher needs to start one provider.
type SpawnRequest struct {
	Name   string
	Config ProviderConfig
	// Env is the complete child environment for stdio providers.
	Env []string
	// Diagnostics receives each line of text written by the provider to its
	// error stream.
	Diagnostics func(text string)
	// OnListChange is invoked when the provider announces a changed tool or
	// resource list.
	OnListChange func(ListChange)
}

// Launcher spawns providers.
type Launcher interface {
	Spawn(ctx context.Context, req SpawnRequest) (Handle, error)
}

// providerEnv builds the child environment: the configured variables plus the
// host PATH. Nothing else from the host environment is inherited.
func providerEnv(env map[string]string, hostPath string) []string {
	merged := make(map[string]string, len(env)+1)
	for k, v := range env {
		merged[k] = v
	}
	if hostPath != "" {
		merged["PATH"] = hostPath
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// sdkLauncher spawns providers with the go-sdk client transports.
type sdkLauncher struct {
	impl      *mcp.Implementation
	rpcLogger RPCLogger
}

// NewLauncher returns the default Launcher. rpcLogger may be nil.
func NewLauncher(clientName, clientVersion string, rpcLogger RPCLogger) Launcher {
	return &sdkLauncher{
		impl:      &mcp.Implementation{Name: clientName, Version: clientVersion},
		rpcLogger: rpcLogger,
	}
}

func (l *sdkLauncher) Spawn(_ context.Context, req SpawnRequest) (Handle, error) {
	client := mcp.NewClient(l.impl, &mcp.ClientOptions{
		ToolListChangedHandler: func(context.Context, *mcp.ToolListChangedRequest) {
			if req.OnListChange != nil {
				req.OnListChange(ToolsChanged)
			}
		},
		ResourceListChangedHandler: func(context.Context, *mcp.ResourceListChangedRequest) {
			if req.OnListChange != nil {
				req.OnListChange(ResourcesChanged)
			}
		},
	})

	switch cfg := req.Config.Transport.(type) {
	case StdioTransport:
		return l.spawnCommand(client, req, cfg)
	case StreamedTransport:
		return &streamedHandle{
			launcher: l,
			name:     req.Name,
			client:   client,
			cfg:      cfg,
		}, nil
	default:
		return nil, fmt.Errorf("mcpmgr: unsupported transport %T for %q", req.Config.Transport, req.Name)
	}
}

func (l *sdkLauncher) spawnCommand(client *mcp.Client, req SpawnRequest, cfg StdioTransport) (Handle, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("mcpmgr: command missing for %q", req.Name)
	}
	if _, err := exec.LookPath(cfg.Command); err != nil {
		return nil, err
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = req.Env
	var stderr *lineWriter
	if req.Diagnostics != nil {
		stderr = &lineWriter{emit: req.Diagnostics}
		cmd.Stderr = stderr
	}
	return &commandHandle{
		name:      req.Name,
		cmd:       cmd,
		stderr:    stderr,
		client:    client,
		transport: l.wrap(req.Name, &mcp.CommandTransport{Command: cmd}),
	}, nil
}

func (l *sdkLauncher) wrap(name string, transport mcp.Transport) mcp.Transport {
	if l.rpcLogger == nil {
		return transport
	}
	return &loggingTransport{provider: name, delegate: transport, logger: l.rpcLogger}
}

// lineWriter splits provider error output into lines and forwards each
// non-empty one. A trailing partial line is held until the next newline or
// Flush.
type lineWriter struct {
	emit func(string)

	mu      sync.Mutex
	pending []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		w.forward(w.pending[:i])
		w.pending = w.pending[i+1:]
	}
	return len(p), nil
}

// Flush forwards any buffered partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.forward(w.pending)
	w.pending = nil
}

func (w *lineWriter) forward(line []byte) {
	if text := strings.TrimRight(string(line), "\r"); strings.TrimSpace(text) != "" {
		w.emit(text)
	}
}

// commandHandle owns a provider subprocess. The process starts during
// Handshake, after its error stream is already wired to the diagnostic sink.
type commandHandle struct {
	name      string
	cmd       *exec.Cmd
	stderr    *lineWriter
	client    *mcp.Client
	transport mcp.Transport

	used      atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (h *commandHandle) Handshake(ctx context.Context) (Session, error) {
	if !h.used.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("mcpmgr: %w for %q", ErrHandshakeUsed, h.name)
	}
	session, err := h.client.Connect(ctx, h.transport, nil)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Close kills the process if closing the session did not already reap it.
func (h *commandHandle) Close() error {
	h.closeOnce.Do(func() {
		if h.stderr != nil {
			defer h.stderr.Flush()
		}
		if !h.used.Load() || h.cmd.Process == nil {
			return
		}
		if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			h.closeErr = fmt.Errorf("mcpmgr: kill %q: %w", h.name, err)
		}
	})
	return h.closeErr
}

// streamedHandle connects over Streamable HTTP and falls back to SSE.
type streamedHandle struct {
	launcher *sdkLauncher
	name     string
	client   *mcp.Client
	cfg      StreamedTransport
	used     atomic.Bool
}

func (h *streamedHandle) Handshake(ctx context.Context) (Session, error) {
	if !h.used.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("mcpmgr: %w for %q", ErrHandshakeUsed, h.name)
	}
	httpClient := decorateHTTPClient(nil, h.cfg.Headers)

	var streamErr error
	if !h.cfg.PreferSSE {
		transport := &mcp.StreamableClientTransport{Endpoint: h.cfg.URL, HTTPClient: httpClient}
		session, err := h.client.Connect(ctx, h.launcher.wrap(h.name, transport), nil)
		if err == nil {
			return session, nil
		}
		streamErr = err
	}
	transport := &mcp.SSEClientTransport{Endpoint: h.cfg.URL, HTTPClient: httpClient}
	session, err := h.client.Connect(ctx, h.launcher.wrap(h.name, transport), nil)
	if err != nil {
		if streamErr != nil {
			return nil, fmt.Errorf("streamable error: %v; sse error: %w", streamErr, err)
		}
		return nil, err
	}
	return session, nil
}

// Close is a no-op: closing the session releases the HTTP stream.
func (h *streamedHandle) Close() error { return nil }

func decorateHTTPClient(base *http.Client, headers map[string]string) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	if len(headers) == 0 {
		return base
	}
	clone := *base
	next := base.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	clone.Transport = &headerDecorator{next: next, headers: headers}
	return &clone
}

type headerDecorator struct {
	next    http.RoundTripper
	headers map[string]string
}

func (d *headerDecorator) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range d.headers {
		req.Header.Set(k, v)
	}
	return d.next.RoundTrip(req)
}

type loggingTransport struct {
	provider string
	delegate mcp.Transport
	logger   RPCLogger
}

func (t *loggingTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := t.delegate.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &loggingConnection{provider: t.provider, delegate: conn, logger: t.logger}, nil
}

type loggingConnection struct {
	provider string
	delegate mcp.Connection
	logger   RPCLogger
	mu       sync.Mutex
}

func (c *loggingConnection) SessionID() string { return c.delegate.SessionID() }

func (c *loggingConnection) Read(ctx context.Context) (jsonrpc.Message, error) {
	msg, err := c.delegate.Read(ctx)
	if err == nil {
		c.emit(RPCDirectionReceive, msg)
	}
	return msg, err
}

func (c *loggingConnection) Write(ctx context.Context, msg jsonrpc.Message) error {
	if err := c.delegate.Write(ctx, msg); err != nil {
		return err
	}
	c.emit(RPCDirectionSend, msg)
	return nil
}

func (c *loggingConnection) Close() error { return c.delegate.Close() }

func (c *loggingConnection) emit(direction RPCDirection, msg jsonrpc.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	encoded, err := json.Marshal(msg)
	if err != nil {
		encoded = []byte(err.Error())
	}
	c.logger(RPCLogEvent{Direction: direction, Message: encoded, Provider: c.provider})
}
