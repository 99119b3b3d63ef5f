package mcpmgr

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/yosida95/uritemplate/v3"
)

// Tool call outcomes recorded in metrics.
const (
	outcomeOK       = "ok"
	outcomeError    = "error"
	outcomeTimeout  = "timeout"
	outcomeRejected = "rejected"
	outcomeCanceled = "canceled"
)

func errNotConnected(status ConnectionStatus) error {
	return fmt.Errorf("connection is %s", status)
}

type callTarget struct {
	conn    *Connection
	session Session
	timeout time.Duration
}

// target resolves a dispatchable session for name. Waiting on the name lock
// orders the call after any in-flight create, teardown, or policy change.
func (m *Manager) target(name string) (callTarget, error) {
	unlock := m.locks.Lock(name)
	defer unlock()
	conn, ok := m.registry.Find(name)
	if !ok {
		return callTarget{}, notFound(name)
	}
	if conn.Disabled() {
		return callTarget{}, disabled(name)
	}
	session, ok := conn.activeSession()
	if !ok {
		return callTarget{}, transportFailure(name, errNotConnected(conn.Status()))
	}
	applied := conn.Applied()
	return callTarget{
		conn:    conn,
		session: session,
		timeout: applied.Config.EffectiveTimeout(m.opts.DefaultTimeout),
	}, nil
}

// requestFailure classifies an error returned by the session. Requests that
// fail because the transport went away are transport errors; everything else
// is a protocol error.
func (m *Manager) requestFailure(t callTarget, method string, err error) error {
	if t.conn.Status() != StatusConnected {
		return transportFailure(t.conn.name, err)
	}
	return protocolFailure(t.conn.name, method, err)
}

// CallTool invokes toolName on provider name with args forwarded verbatim.
// The call is bounded by the provider's effective timeout; on expiry
// ErrTimeout is returned without cancelling the request at the provider.
// Disabled providers are rejected before any request is sent.
func (m *Manager) CallTool(ctx context.Context, name, toolName string, args any) (*mcp.CallToolResult, error) {
	start := time.Now()
	t, err := m.target(name)
	if err != nil {
		m.metrics.observeCall(name, outcomeRejected, time.Since(start))
		return nil, err
	}

	type result struct {
		res *mcp.CallToolResult
		err error
	}
	done := make(chan result, 1)
	callCtx := context.WithoutCancel(ctx)
	go func() {
		res, err := t.session.CallTool(callCtx, &mcp.CallToolParams{Name: toolName, Arguments: args})
		done <- result{res: res, err: err}
	}()

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		if r.err != nil {
			m.metrics.observeCall(name, outcomeError, time.Since(start))
			return nil, m.requestFailure(t, "tools/call "+toolName, r.err)
		}
		m.metrics.observeCall(name, outcomeOK, time.Since(start))
		return r.res, nil
	case <-timer.C:
		m.metrics.observeCall(name, outcomeTimeout, time.Since(start))
		m.logger.Warn("tool call timed out", "provider", name, "tool", toolName, "timeout", t.timeout)
		return nil, fmt.Errorf("mcpmgr: %w: %s on %q after %s", ErrTimeout, toolName, name, t.timeout)
	case <-ctx.Done():
		m.metrics.observeCall(name, outcomeCanceled, time.Since(start))
		return nil, ctx.Err()
	}
}

// ReadResource reads uri from provider name. It is not bounded by the
// provider timeout; callers control it through ctx.
func (m *Manager) ReadResource(ctx context.Context, name, uri string) (*mcp.ReadResourceResult, error) {
	t, err := m.target(name)
	if err != nil {
		return nil, err
	}
	res, err := t.session.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
	if err != nil {
		return nil, m.requestFailure(t, "resources/read "+uri, err)
	}
	return res, nil
}

// ExpandResourceTemplate expands one of provider name's advertised resource
// templates with vars, producing a URI suitable for ReadResource.
func (m *Manager) ExpandResourceTemplate(name, template string, vars map[string]string) (string, error) {
	conn, ok := m.registry.Find(name)
	if !ok {
		return "", notFound(name)
	}
	known := false
	for _, t := range conn.snapshot(m.opts.DefaultTimeout).ResourceTemplates {
		if t.URITemplate == template {
			known = true
			break
		}
	}
	if !known {
		return "", fmt.Errorf("mcpmgr: %w: resource template %q on %q", ErrNotFound, template, name)
	}
	tmpl, err := uritemplate.New(template)
	if err != nil {
		return "", protocolFailure(name, "resources/templates/list", err)
	}
	values := uritemplate.Values{}
	for k, v := range vars {
		values.Set(k, uritemplate.String(v))
	}
	uri, err := tmpl.Expand(values)
	if err != nil {
		return "", fmt.Errorf("mcpmgr: expand %q on %q: %w", template, name, err)
	}
	return uri, nil
}
