package mcpmgr

import (
	"context"
	"encoding/json"
	"sort"
)

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Created   []string
	Recreated []string
	Removed   []string
	// Failures holds per-provider errors. A failed provider is still listed
	// under the action that was attempted.
	Failures map[string]error
}

// Changed reports whether the pass created, recreated, or removed anything.
func (r ReconcileReport) Changed() bool {
	return len(r.Created)+len(r.Recreated)+len(r.Removed) > 0
}

type reconcileAction string

const (
	actionNone     reconcileAction = "none"
	actionCreate   reconcileAction = "create"
	actionRecreate reconcileAction = "recreate"
	actionRemove   reconcileAction = "remove"
)

// Reconcile converges the registry on desired: names absent from desired are
// torn down, new names are created, and names whose configuration changed are
// recreated. Unchanged connections are left alone. A failing provider never
// stops the pass; its error lands in the report.
func (m *Manager) Reconcile(ctx context.Context, desired map[string]json.RawMessage) ReconcileReport {
	m.reconciling.Add(1)
	defer m.reconciling.Add(-1)

	report := ReconcileReport{Failures: make(map[string]error)}

	for _, name := range m.registry.Names() {
		if _, keep := desired[name]; keep {
			continue
		}
		unlock := m.locks.Lock(name)
		err := m.teardown(name)
		unlock()
		report.Removed = append(report.Removed, name)
		m.metrics.reconcileActions.WithLabelValues(string(actionRemove)).Inc()
		if err != nil {
			report.Failures[name] = err
		}
	}

	names := make([]string, 0, len(desired))
	for name := range desired {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			report.Failures[name] = err
			continue
		}
		applied := NewAppliedConfig(desired[name])
		unlock := m.locks.Lock(name)
		action, err := m.reconcileOne(ctx, name, applied)
		unlock()

		switch action {
		case actionCreate:
			report.Created = append(report.Created, name)
		case actionRecreate:
			report.Recreated = append(report.Recreated, name)
		}
		if action != actionNone {
			m.metrics.reconcileActions.WithLabelValues(string(action)).Inc()
		}
		if err != nil {
			report.Failures[name] = err
		}
	}

	m.logger.Debug("reconciliation finished",
		"created", len(report.Created),
		"recreated", len(report.Recreated),
		"removed", len(report.Removed),
		"failures", len(report.Failures))
	return report
}

// reconcileOne handles a single desired entry. The caller holds the name lock.
func (m *Manager) reconcileOne(ctx context.Context, name string, applied AppliedConfig) (reconcileAction, error) {
	conn, ok := m.registry.Find(name)
	if !ok {
		return actionCreate, m.create(ctx, name, applied)
	}
	if conn.Applied().Equal(applied) {
		return actionNone, nil
	}
	m.logger.Info("provider configuration changed", "provider", name)
	if err := m.teardown(name); err != nil {
		m.logger.Debug("teardown before recreate reported errors", "provider", name, "error", err)
	}
	return actionRecreate, m.create(ctx, name, applied)
}
