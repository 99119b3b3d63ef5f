package mcpmgr

import (
	"context"
	"errors"
)

// create registers a connection for name and brings it up. The caller holds
// the name lock. A connection is registered even when startup fails, in
// disconnected status with the failure recorded.
func (m *Manager) create(ctx context.Context, name string, applied AppliedConfig) error {
	conn := newConnection(name, applied)
	if err := m.registry.Add(conn); err != nil {
		return err
	}
	defer m.notify(name, EventUpdated)

	if !applied.Valid() {
		conn.markDisconnected(applied.Err.Error())
		m.logger.Warn("provider configuration invalid", "provider", name, "error", applied.Err)
		return invalidConfig(name, applied.Err)
	}

	cfg := applied.Config
	var env []string
	if stdio, ok := AsStdio(cfg.Transport); ok {
		env = providerEnv(stdio.Env, m.opts.HostPath())
	}
	handle, err := m.launcher.Spawn(ctx, SpawnRequest{
		Name:         name,
		Config:       cfg,
		Env:          env,
		Diagnostics:  m.diagnosticSink(conn),
		OnListChange: m.listChangeHandler(conn),
	})
	if err != nil {
		conn.markDisconnected(err.Error())
		m.logger.Warn("provider spawn failed", "provider", name, "error", err)
		return transportFailure(name, err)
	}

	hsCtx, cancel := m.withTimeout(ctx, cfg.EffectiveTimeout(m.opts.DefaultTimeout))
	session, err := handle.Handshake(hsCtx)
	cancel()
	if err != nil {
		conn.markDisconnected(err.Error())
		if cerr := handle.Close(); cerr != nil {
			m.logger.Debug("provider close after failed handshake", "provider", name, "error", cerr)
		}
		m.logger.Warn("provider handshake failed", "provider", name, "error", err)
		return transportFailure(name, err)
	}

	conn.markConnected(handle, session)
	go m.monitor(conn, session)
	m.logger.Info("provider connected", "provider", name, "transport", TransportOf(cfg.Transport), "id", conn.id)

	m.syncCapabilities(ctx, conn, session, cfg)
	return nil
}

// diagnosticSink appends provider error output to the connection's log.
func (m *Manager) diagnosticSink(conn *Connection) func(string) {
	return func(text string) {
		m.logger.Debug("provider stderr", "provider", conn.name, "output", text)
		conn.appendError(text)
	}
}

// monitor waits for the session to end. Closes initiated by teardown are
// ignored; anything else leaves the connection disconnected with the reason.
func (m *Manager) monitor(conn *Connection, session Session) {
	err := session.Wait()
	if !conn.markTransportClosed(err) {
		return
	}
	current, ok := m.registry.Find(conn.name)
	if !ok || current.id != conn.id {
		return
	}
	m.logger.Warn("provider transport closed", "provider", conn.name, "error", err)
	m.notify(conn.name, EventDisconnected)
}

// teardown closes and unregisters the connection for name. The caller holds
// the name lock. Absent names are a no-op. Close failures are logged and
// returned joined; the connection is unregistered regardless.
func (m *Manager) teardown(name string) error {
	conn, ok := m.registry.Find(name)
	if !ok {
		return nil
	}
	handle, session := conn.detach()
	var errs []error
	if session != nil {
		if err := session.Close(); err != nil {
			m.logger.Warn("provider session close failed", "provider", name, "error", err)
			errs = append(errs, err)
		}
	}
	if handle != nil {
		if err := handle.Close(); err != nil {
			m.logger.Warn("provider transport close failed", "provider", name, "error", err)
			errs = append(errs, err)
		}
	}
	m.registry.Remove(name)
	m.logger.Info("provider removed", "provider", name, "id", conn.id)
	m.notify(name, EventRemoved)
	return errors.Join(errs...)
}

// Restart tears down the connection for name and recreates it from the same
// applied configuration.
func (m *Manager) Restart(ctx context.Context, name string) error {
	unlock := m.locks.Lock(name)
	defer unlock()
	conn, ok := m.registry.Find(name)
	if !ok {
		return notFound(name)
	}
	applied := conn.Applied()
	conn.markRestarting()
	if err := m.teardown(name); err != nil {
		m.logger.Debug("restart teardown reported errors", "provider", name, "error", err)
	}
	return m.create(ctx, name, applied)
}
