package mcpmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// fakeSession is a scripted protocol client.
type fakeSession struct {
	mu        sync.Mutex
	tools     []*mcp.Tool
	resources []*mcp.Resource
	templates []*mcp.ResourceTemplate
	listErr   map[string]error
	callFn    func(context.Context, *mcp.CallToolParams) (*mcp.CallToolResult, error)
	calls     []*mcp.CallToolParams
	closeErr  error

	closeCalls atomic.Int32
	done       chan struct{}
	doneOnce   sync.Once
	waitErr    error
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		tools:   []*mcp.Tool{{Name: "echo", Description: "echoes"}},
		listErr: make(map[string]error),
		done:    make(chan struct{}),
	}
}

func (s *fakeSession) ListTools(context.Context, *mcp.ListToolsParams) (*mcp.ListToolsResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.listErr["tools"]; err != nil {
		return nil, err
	}
	return &mcp.ListToolsResult{Tools: s.tools}, nil
}

func (s *fakeSession) ListResources(context.Context, *mcp.ListResourcesParams) (*mcp.ListResourcesResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.listErr["resources"]; err != nil {
		return nil, err
	}
	return &mcp.ListResourcesResult{Resources: s.resources}, nil
}

func (s *fakeSession) ListResourceTemplates(context.Context, *mcp.ListResourceTemplatesParams) (*mcp.ListResourceTemplatesResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.listErr["templates"]; err != nil {
		return nil, err
	}
	return &mcp.ListResourceTemplatesResult{ResourceTemplates: s.templates}, nil
}

func (s *fakeSession) ReadResource(_ context.Context, params *mcp.ReadResourceParams) (*mcp.ReadResourceResult, error) {
	return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{{URI: params.URI, Text: "contents of " + params.URI}}}, nil
}

func (s *fakeSession) CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, params)
	fn := s.callFn
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, params)
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "ok"}}}, nil
}

func (s *fakeSession) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *fakeSession) Close() error {
	s.closeCalls.Add(1)
	s.doneOnce.Do(func() { close(s.done) })
	return s.closeErr
}

func (s *fakeSession) Wait() error {
	<-s.done
	return s.waitErr
}

// crash simulates the provider exiting on its own.
func (s *fakeSession) crash(err error) {
	s.doneOnce.Do(func() {
		s.waitErr = err
		close(s.done)
	})
}

type fakeHandle struct {
	session    *fakeSession
	hsErr      error
	used       atomic.Bool
	closeCalls atomic.Int32
	closeErr   error
}

func (h *fakeHandle) Handshake(context.Context) (Session, error) {
	if !h.used.CompareAndSwap(false, true) {
		return nil, ErrHandshakeUsed
	}
	if h.hsErr != nil {
		return nil, h.hsErr
	}
	return h.session, nil
}

func (h *fakeHandle) Close() error {
	h.closeCalls.Add(1)
	return h.closeErr
}

// fakeLauncher records spawns and hands out scripted handles.
type fakeLauncher struct {
	mu       sync.Mutex
	requests []SpawnRequest
	handles  map[string][]*fakeHandle
	spawnErr map[string]error
	hsErr    map[string]error
	// stderr is written to the diagnostic sink before the handshake.
	stderr map[string]string
	// prepare customizes each new session.
	prepare func(name string, s *fakeSession)
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{
		handles:  make(map[string][]*fakeHandle),
		spawnErr: make(map[string]error),
		hsErr:    make(map[string]error),
		stderr:   make(map[string]string),
	}
}

func (l *fakeLauncher) Spawn(_ context.Context, req SpawnRequest) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = append(l.requests, req)
	if err := l.spawnErr[req.Name]; err != nil {
		return nil, err
	}
	if text := l.stderr[req.Name]; text != "" && req.Diagnostics != nil {
		req.Diagnostics(text)
	}
	session := newFakeSession()
	if l.prepare != nil {
		l.prepare(req.Name, session)
	}
	h := &fakeHandle{session: session, hsErr: l.hsErr[req.Name]}
	l.handles[req.Name] = append(l.handles[req.Name], h)
	return h, nil
}

func (l *fakeLauncher) spawnCount(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, r := range l.requests {
		if r.Name == name {
			n++
		}
	}
	return n
}

func (l *fakeLauncher) latest(name string) *fakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	hs := l.handles[name]
	if len(hs) == 0 {
		return nil
	}
	return hs[len(hs)-1]
}

func (l *fakeLauncher) lastRequest(name string) (SpawnRequest, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.requests) - 1; i >= 0; i-- {
		if l.requests[i].Name == name {
			return l.requests[i], true
		}
	}
	return SpawnRequest{}, false
}

// memStore is an in-memory ProviderStore.
type memStore struct {
	mu      sync.Mutex
	entries map[string]map[string]any
}

func newMemStore(t *testing.T, doc map[string]string) *memStore {
	t.Helper()
	s := &memStore{entries: make(map[string]map[string]any)}
	for name, raw := range doc {
		var entry map[string]any
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			t.Fatalf("bad fixture for %s: %v", name, err)
		}
		s.entries[name] = entry
	}
	return s
}

func (s *memStore) Providers(context.Context) (map[string]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]json.RawMessage, len(s.entries))
	for name, entry := range s.entries {
		raw, err := json.Marshal(entry)
		if err != nil {
			return nil, err
		}
		out[name] = raw
	}
	return out, nil
}

func (s *memStore) UpdateProvider(_ context.Context, name string, mutate func(map[string]any) error) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("memstore: %w: %q", ErrNotFound, name)
	}
	next := maps.Clone(entry)
	if err := mutate(next); err != nil {
		return nil, err
	}
	s.entries[name] = next
	return json.Marshal(next)
}

func (s *memStore) DeleteProvider(ctx context.Context, name string) (map[string]json.RawMessage, error) {
	s.mu.Lock()
	if _, ok := s.entries[name]; !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("memstore: %w: %q", ErrNotFound, name)
	}
	delete(s.entries, name)
	s.mu.Unlock()
	return s.Providers(ctx)
}

func (s *memStore) entry(name string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.entries[name])
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, store ProviderStore) (*Manager, *fakeLauncher) {
	t.Helper()
	launcher := newFakeLauncher()
	m := NewManager(store, &ManagerOptions{
		Launcher: launcher,
		Logger:   quietLogger(),
		HostPath: func() string { return "/usr/bin" },
	})
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m, launcher
}

func desired(doc map[string]string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(doc))
	for name, raw := range doc {
		out[name] = json.RawMessage(raw)
	}
	return out
}

var errBoom = errors.New("boom")
