package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileCreatesAndIsIdempotent(t *testing.T) {
	t.Parallel()
	m, launcher := newTestManager(t, nil)
	ctx := context.Background()
	doc := desired(map[string]string{
		"alpha": `{"command":"alpha-server"}`,
		"beta":  `{"url":"https://beta.example/mcp"}`,
	})

	report := m.Reconcile(ctx, doc)
	assert.Equal(t, []string{"alpha", "beta"}, report.Created)
	assert.Empty(t, report.Failures)
	for _, p := range m.Providers() {
		assert.Equal(t, StatusConnected, p.Status, p.Name)
	}

	report = m.Reconcile(ctx, doc)
	assert.False(t, report.Changed())
	assert.Equal(t, 1, launcher.spawnCount("alpha"))
	assert.Equal(t, 1, launcher.spawnCount("beta"))
	assert.False(t, m.Reconciling())
}

func TestReconcileRecreatesOnlyChangedProviders(t *testing.T) {
	t.Parallel()
	m, launcher := newTestManager(t, nil)
	ctx := context.Background()

	m.Reconcile(ctx, desired(map[string]string{
		"alpha": `{"command":"alpha-server","args":["--v1"]}`,
		"beta":  `{"command":"beta-server","env":{"A":"1"}}`,
	}))
	oldAlpha := launcher.latest("alpha")

	report := m.Reconcile(ctx, desired(map[string]string{
		"alpha": `{"command":"alpha-server","args":["--v2"]}`,
		// reordered keys and an explicit default timeout compare equal
		"beta": `{"env":{"A":"1"},"timeout":60,"command":"beta-server"}`,
	}))
	assert.Equal(t, []string{"alpha"}, report.Recreated)
	assert.Empty(t, report.Created)
	assert.Equal(t, int32(1), oldAlpha.session.closeCalls.Load())
	assert.Equal(t, int32(1), oldAlpha.closeCalls.Load())
	assert.Equal(t, 2, launcher.spawnCount("alpha"))
	assert.Equal(t, 1, launcher.spawnCount("beta"))
}

func TestReconcileRemovesAndReleasesOnce(t *testing.T) {
	t.Parallel()
	m, launcher := newTestManager(t, nil)
	ctx := context.Background()

	m.Reconcile(ctx, desired(map[string]string{"alpha": `{"command":"a"}`, "beta": `{"command":"b"}`}))
	beta := launcher.latest("beta")

	report := m.Reconcile(ctx, desired(map[string]string{"alpha": `{"command":"a"}`}))
	assert.Equal(t, []string{"beta"}, report.Removed)
	_, ok := m.Provider("beta")
	assert.False(t, ok)

	m.Reconcile(ctx, desired(map[string]string{"alpha": `{"command":"a"}`}))
	assert.Equal(t, int32(1), beta.session.closeCalls.Load())
	assert.Equal(t, int32(1), beta.closeCalls.Load())
}

func TestReconcileIsolatesFailures(t *testing.T) {
	t.Parallel()
	m, launcher := newTestManager(t, nil)
	launcher.spawnErr["broken"] = errors.New("exec: \"missing\": executable file not found in $PATH")

	report := m.Reconcile(context.Background(), desired(map[string]string{
		"broken":  `{"command":"missing"}`,
		"healthy": `{"command":"ok"}`,
	}))

	require.Contains(t, report.Failures, "broken")
	assert.ErrorIs(t, report.Failures["broken"], ErrTransport)
	assert.NotContains(t, report.Failures, "healthy")

	broken, ok := m.Provider("broken")
	require.True(t, ok)
	assert.Equal(t, StatusDisconnected, broken.Status)
	assert.Contains(t, broken.Error, "executable file not found")

	healthy, _ := m.Provider("healthy")
	assert.Equal(t, StatusConnected, healthy.Status)
}

func TestReconcileInvalidConfiguration(t *testing.T) {
	t.Parallel()
	m, launcher := newTestManager(t, nil)
	ctx := context.Background()
	doc := desired(map[string]string{"bad": `{"command":"x","timeout":0}`})

	report := m.Reconcile(ctx, doc)
	require.Contains(t, report.Failures, "bad")
	assert.ErrorIs(t, report.Failures["bad"], ErrInvalidConfiguration)
	assert.Equal(t, 0, launcher.spawnCount("bad"))

	state, ok := m.Provider("bad")
	require.True(t, ok)
	assert.Equal(t, StatusDisconnected, state.Status)
	assert.NotEmpty(t, state.Error)

	report = m.Reconcile(ctx, doc)
	assert.False(t, report.Changed(), "identical invalid entry must not be recreated")

	report = m.Reconcile(ctx, desired(map[string]string{"bad": `{"command":"x","timeout":5}`}))
	assert.Equal(t, []string{"bad"}, report.Recreated)
	state, _ = m.Provider("bad")
	assert.Equal(t, StatusConnected, state.Status)
	assert.Equal(t, 5*time.Second, state.Timeout)
}

func TestHandshakeFailureReleasesHandle(t *testing.T) {
	t.Parallel()
	m, launcher := newTestManager(t, nil)
	launcher.hsErr["flaky"] = errBoom
	launcher.stderr["flaky"] = "listening on stdio"

	report := m.Reconcile(context.Background(), desired(map[string]string{"flaky": `{"command":"flaky"}`}))
	assert.ErrorIs(t, report.Failures["flaky"], ErrTransport)
	assert.Equal(t, int32(1), launcher.latest("flaky").closeCalls.Load())

	state, _ := m.Provider("flaky")
	assert.Equal(t, StatusDisconnected, state.Status)
	assert.Equal(t, "listening on stdio\nboom", state.Error)
}

func TestTeardownToleratesCloseErrors(t *testing.T) {
	t.Parallel()
	m, launcher := newTestManager(t, nil)
	ctx := context.Background()
	m.Reconcile(ctx, desired(map[string]string{"alpha": `{"command":"a"}`}))
	h := launcher.latest("alpha")
	h.session.closeErr = errors.New("session already gone")
	h.closeErr = errors.New("kill failed")

	report := m.Reconcile(ctx, desired(nil))
	assert.Equal(t, []string{"alpha"}, report.Removed)
	assert.Error(t, report.Failures["alpha"])
	assert.Equal(t, 0, m.Registry().Len())
	assert.Equal(t, int32(1), h.session.closeCalls.Load())
	assert.Equal(t, int32(1), h.closeCalls.Load())
}

func TestOutOfBandCloseMarksDisconnected(t *testing.T) {
	t.Parallel()
	m, launcher := newTestManager(t, nil)
	m.Reconcile(context.Background(), desired(map[string]string{"alpha": `{"command":"a"}`}))

	launcher.latest("alpha").session.crash(errors.New("pipe closed"))

	require.Eventually(t, func() bool {
		state, _ := m.Provider("alpha")
		return state.Status == StatusDisconnected
	}, time.Second, 5*time.Millisecond)
	state, _ := m.Provider("alpha")
	assert.Contains(t, state.Error, "pipe closed")

	_, err := m.CallTool(context.Background(), "alpha", "echo", nil)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestTeardownCloseIsNotReportedAsCrash(t *testing.T) {
	t.Parallel()
	m, launcher := newTestManager(t, nil)
	ctx := context.Background()
	m.Reconcile(ctx, desired(map[string]string{"alpha": `{"command":"a","args":["1"]}`}))
	old := launcher.latest("alpha")

	m.Reconcile(ctx, desired(map[string]string{"alpha": `{"command":"a","args":["2"]}`}))
	old.session.crash(errors.New("late close"))

	time.Sleep(20 * time.Millisecond)
	state, _ := m.Provider("alpha")
	assert.Equal(t, StatusConnected, state.Status)
	assert.Empty(t, state.Error)
}

func TestSpawnEnvironmentIsConfigPlusPath(t *testing.T) {
	t.Parallel()
	m, launcher := newTestManager(t, nil)
	m.Reconcile(context.Background(), desired(map[string]string{
		"alpha": `{"command":"a","env":{"TOKEN":"secret","PATH":"/ignored"}}`,
	}))

	req, ok := launcher.lastRequest("alpha")
	require.True(t, ok)
	assert.Equal(t, []string{"PATH=/usr/bin", "TOKEN=secret"}, req.Env)
}

func TestCapabilityFailuresDegradeToEmpty(t *testing.T) {
	t.Parallel()
	m, launcher := newTestManager(t, nil)
	launcher.prepare = func(_ string, s *fakeSession) {
		s.listErr["resources"] = errors.New("Method not found")
		s.templates = []*mcp.ResourceTemplate{{Name: "file", URITemplate: "file:///{path}"}}
	}

	m.Reconcile(context.Background(), desired(map[string]string{
		"alpha": `{"command":"a","autoApprove":["echo"]}`,
	}))

	state, _ := m.Provider("alpha")
	assert.Equal(t, StatusConnected, state.Status)
	require.Len(t, state.Tools, 1)
	assert.True(t, state.Tools[0].AutoApprove)
	assert.Empty(t, state.Resources)
	assert.Len(t, state.ResourceTemplates, 1)
}

func TestListChangeResyncsTools(t *testing.T) {
	t.Parallel()
	m, launcher := newTestManager(t, nil)
	m.Reconcile(context.Background(), desired(map[string]string{"alpha": `{"command":"a"}`}))

	h := launcher.latest("alpha")
	h.session.mu.Lock()
	h.session.tools = append(h.session.tools, &mcp.Tool{Name: "added"})
	h.session.mu.Unlock()

	req, _ := launcher.lastRequest("alpha")
	req.OnListChange(ToolsChanged)

	require.Eventually(t, func() bool {
		state, _ := m.Provider("alpha")
		return len(state.Tools) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestRestartRecreatesConnection(t *testing.T) {
	t.Parallel()
	m, launcher := newTestManager(t, nil)
	ctx := context.Background()
	m.Reconcile(ctx, desired(map[string]string{"alpha": `{"command":"a"}`}))
	before, _ := m.Provider("alpha")

	require.NoError(t, m.Restart(ctx, "alpha"))
	after, _ := m.Provider("alpha")
	assert.NotEqual(t, before.ID, after.ID)
	assert.Equal(t, StatusConnected, after.Status)
	assert.Equal(t, 2, launcher.spawnCount("alpha"))

	assert.ErrorIs(t, m.Restart(ctx, "ghost"), ErrNotFound)
}

func TestSubscribersSeeLifecycleEvents(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t, nil)
	var events []ProviderEvent
	m.Subscribe(func(e ProviderEvent) { events = append(events, e) })

	ctx := context.Background()
	m.Reconcile(ctx, desired(map[string]string{"alpha": `{"command":"a"}`}))
	m.Reconcile(ctx, desired(nil))

	assert.Equal(t, []ProviderEvent{
		{Name: "alpha", Kind: EventUpdated},
		{Name: "alpha", Kind: EventRemoved},
	}, events)
}

func TestCloseTearsDownEverything(t *testing.T) {
	t.Parallel()
	m, launcher := newTestManager(t, nil)
	ctx := context.Background()
	m.Reconcile(ctx, desired(map[string]string{"alpha": `{"command":"a"}`, "beta": `{"command":"b"}`}))

	require.NoError(t, m.Close(ctx))
	assert.Equal(t, 0, m.Registry().Len())
	assert.Equal(t, int32(1), launcher.latest("alpha").closeCalls.Load())
	assert.Equal(t, int32(1), launcher.latest("beta").closeCalls.Load())
}

func TestRefreshCapabilities(t *testing.T) {
	t.Parallel()
	m, launcher := newTestManager(t, nil)
	ctx := context.Background()
	m.Reconcile(ctx, desired(map[string]string{"alpha": `{"command":"a","autoApprove":["search"]}`}))

	var (
		mu     sync.Mutex
		events []ProviderEvent
	)
	m.Subscribe(func(e ProviderEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	session := launcher.latest("alpha").session
	session.mu.Lock()
	session.tools = []*mcp.Tool{{Name: "echo"}, {Name: "search"}}
	session.resources = []*mcp.Resource{{URI: "file:///notes", Name: "notes"}}
	session.mu.Unlock()

	require.NoError(t, m.RefreshCapabilities(ctx, "alpha"))
	state, _ := m.Provider("alpha")
	require.Len(t, state.Tools, 2)
	assert.False(t, state.Tools[0].AutoApprove)
	assert.True(t, state.Tools[1].AutoApprove)
	require.Len(t, state.Resources, 1)
	mu.Lock()
	assert.Equal(t, []ProviderEvent{{Name: "alpha", Kind: EventUpdated}}, events)
	mu.Unlock()
	assert.Equal(t, 1, launcher.spawnCount("alpha"))

	assert.ErrorIs(t, m.RefreshCapabilities(ctx, "ghost"), ErrNotFound)

	session.crash(errBoom)
	require.Eventually(t, func() bool {
		state, _ := m.Provider("alpha")
		return state.Status == StatusDisconnected
	}, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, m.RefreshCapabilities(ctx, "alpha"), ErrTransport)
}

func TestConcurrentReconcilePolicyAndCalls(t *testing.T) {
	t.Parallel()
	store := newMemStore(t, map[string]string{"alpha": `{"command":"a"}`})
	m, launcher := newTestManager(t, store)
	ctx := context.Background()
	_, err := m.Sync(ctx)
	require.NoError(t, err)

	const rounds = 20
	var wg sync.WaitGroup
	for i := range rounds {
		wg.Add(4)
		go func() {
			defer wg.Done()
			m.Reconcile(ctx, desired(map[string]string{
				"alpha": fmt.Sprintf(`{"command":"a","args":["%d"]}`, i%2),
			}))
		}()
		go func() {
			defer wg.Done()
			_ = m.SetAutoApprove(ctx, "alpha", "echo", i%2 == 0)
		}()
		go func() {
			defer wg.Done()
			_ = m.SetDisabled(ctx, "alpha", false)
		}()
		go func() {
			defer wg.Done()
			_, _ = m.CallTool(ctx, "alpha", "echo", map[string]any{"round": i})
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"alpha"}, m.Registry().Names())
	state, ok := m.Provider("alpha")
	require.True(t, ok)
	assert.Equal(t, StatusConnected, state.Status)

	launcher.mu.Lock()
	handles := append([]*fakeHandle(nil), launcher.handles["alpha"]...)
	launcher.mu.Unlock()
	require.Greater(t, len(handles), 1)
	open := 0
	for _, h := range handles {
		switch h.closeCalls.Load() {
		case 0:
			open++
		case 1:
		default:
			t.Errorf("handle closed %d times", h.closeCalls.Load())
		}
		if n := h.session.closeCalls.Load(); n > 1 {
			t.Errorf("session closed %d times", n)
		}
	}
	assert.Equal(t, 1, open, "exactly one live handle per name")
	assert.Zero(t, handles[len(handles)-1].closeCalls.Load(), "the live handle is the newest")
}
