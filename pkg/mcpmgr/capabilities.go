package mcpmgr

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

// maxPages bounds cursor pagination against a provider that never stops
// returning a next cursor.
const maxPages = 100

// syncCapabilities fetches tools, resources, and resource templates
// concurrently. Each list fails independently and degrades to empty.
func (m *Manager) syncCapabilities(ctx context.Context, conn *Connection, session Session, policy ProviderConfig) {
	timeout := policy.EffectiveTimeout(m.opts.DefaultTimeout)
	var (
		tools     []Tool
		resources []Resource
		templates []ResourceTemplate
	)
	var g errgroup.Group
	g.Go(func() error {
		tools = m.fetchTools(ctx, conn.name, session, policy, timeout)
		return nil
	})
	g.Go(func() error {
		resources = m.fetchResources(ctx, conn.name, session, timeout)
		return nil
	})
	g.Go(func() error {
		templates = m.fetchTemplates(ctx, conn.name, session, timeout)
		return nil
	})
	_ = g.Wait()
	conn.setCapabilities(tools, resources, templates)
}

func (m *Manager) fetchTools(ctx context.Context, name string, session Session, policy ProviderConfig, timeout time.Duration) []Tool {
	ctx, cancel := m.withTimeout(ctx, timeout)
	defer cancel()
	raw, err := collectPages(ctx, func(ctx context.Context, cursor string) ([]*mcp.Tool, string, error) {
		res, err := session.ListTools(ctx, &mcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			return nil, "", err
		}
		return res.Tools, res.NextCursor, nil
	})
	if err != nil {
		m.logListFailure(name, "tools/list", err)
		return []Tool{}
	}
	tools := make([]Tool, 0, len(raw))
	for _, t := range raw {
		if t == nil {
			continue
		}
		tools = append(tools, toolFromSDK(t, policy.AutoApproves(t.Name)))
	}
	return tools
}

func (m *Manager) fetchResources(ctx context.Context, name string, session Session, timeout time.Duration) []Resource {
	ctx, cancel := m.withTimeout(ctx, timeout)
	defer cancel()
	raw, err := collectPages(ctx, func(ctx context.Context, cursor string) ([]*mcp.Resource, string, error) {
		res, err := session.ListResources(ctx, &mcp.ListResourcesParams{Cursor: cursor})
		if err != nil {
			return nil, "", err
		}
		return res.Resources, res.NextCursor, nil
	})
	if err != nil {
		m.logListFailure(name, "resources/list", err)
		return []Resource{}
	}
	resources := make([]Resource, 0, len(raw))
	for _, r := range raw {
		if r != nil {
			resources = append(resources, resourceFromSDK(r))
		}
	}
	return resources
}

func (m *Manager) fetchTemplates(ctx context.Context, name string, session Session, timeout time.Duration) []ResourceTemplate {
	ctx, cancel := m.withTimeout(ctx, timeout)
	defer cancel()
	raw, err := collectPages(ctx, func(ctx context.Context, cursor string) ([]*mcp.ResourceTemplate, string, error) {
		res, err := session.ListResourceTemplates(ctx, &mcp.ListResourceTemplatesParams{Cursor: cursor})
		if err != nil {
			return nil, "", err
		}
		return res.ResourceTemplates, res.NextCursor, nil
	})
	if err != nil {
		m.logListFailure(name, "resources/templates/list", err)
		return []ResourceTemplate{}
	}
	templates := make([]ResourceTemplate, 0, len(raw))
	for _, t := range raw {
		if t != nil {
			templates = append(templates, templateFromSDK(t))
		}
	}
	return templates
}

func (m *Manager) logListFailure(name, method string, err error) {
	if isMethodUnavailableError(err) {
		m.logger.Debug("provider does not implement list method", "provider", name, "method", method)
		return
	}
	m.logger.Warn("provider list request failed", "provider", name, "method", method, "error", err)
}

func collectPages[T any](ctx context.Context, fetch func(ctx context.Context, cursor string) ([]T, string, error)) ([]T, error) {
	var out []T
	cursor := ""
	for range maxPages {
		items, next, err := fetch(ctx, cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
		if next == "" {
			break
		}
		cursor = next
	}
	return out, nil
}

// RefreshCapabilities re-fetches the lists of a connected provider.
func (m *Manager) RefreshCapabilities(ctx context.Context, name string) error {
	unlock := m.locks.Lock(name)
	defer unlock()
	conn, ok := m.registry.Find(name)
	if !ok {
		return notFound(name)
	}
	session, ok := conn.activeSession()
	if !ok {
		return transportFailure(name, errNotConnected(conn.Status()))
	}
	m.syncCapabilities(ctx, conn, session, conn.Applied().Config)
	m.notify(name, EventUpdated)
	return nil
}

// listChangeHandler re-syncs the announced list in the background. It is a
// no-op once conn has been replaced or removed.
func (m *Manager) listChangeHandler(conn *Connection) func(ListChange) {
	return func(change ListChange) {
		go func() {
			unlock := m.locks.Lock(conn.name)
			defer unlock()
			current, ok := m.registry.Find(conn.name)
			if !ok || current.id != conn.id {
				return
			}
			session, ok := conn.activeSession()
			if !ok {
				return
			}
			policy := conn.Applied().Config
			timeout := policy.EffectiveTimeout(m.opts.DefaultTimeout)
			ctx := context.Background()
			switch change {
			case ToolsChanged:
				conn.setTools(m.fetchTools(ctx, conn.name, session, policy, timeout))
			case ResourcesChanged:
				conn.setResources(
					m.fetchResources(ctx, conn.name, session, timeout),
					m.fetchTemplates(ctx, conn.name, session, timeout))
			}
			m.logger.Debug("provider list re-synced", "provider", conn.name, "list", string(change))
			m.notify(conn.name, EventUpdated)
		}()
	}
}
