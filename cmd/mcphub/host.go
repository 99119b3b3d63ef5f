package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"

	"github.com/vikashloomba/mcp-hub-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-hub-go/pkg/settings"
)

const closeTimeout = 10 * time.Second

// host bundles the settings store and a Manager bound to it.
type host struct {
	store   *settings.FileStore
	manager *mcpmgr.Manager
}

func openHost(reg prometheus.Registerer) (*host, error) {
	path, err := settingsPath()
	if err != nil {
		return nil, err
	}
	store, err := settings.Open(path, logger)
	if err != nil {
		return nil, err
	}
	manager := mcpmgr.NewManager(store, &mcpmgr.ManagerOptions{
		ClientName:    "mcphub",
		ClientVersion: version,
		Logger:        logger,
		LogJSONRPC:    viper.GetBool(keyLogJSONRPC),
		Registerer:    reg,
	})
	return &host{store: store, manager: manager}, nil
}

// connect reconciles only the named providers so one-shot commands do not
// start every provider in the file.
func (h *host) connect(ctx context.Context, names ...string) error {
	desired, err := h.store.Providers(ctx)
	if err != nil {
		return err
	}
	subset := make(map[string]json.RawMessage, len(names))
	for _, name := range names {
		raw, ok := desired[name]
		if !ok {
			return fmt.Errorf("provider %q is not configured in %s", name, h.store.Path())
		}
		subset[name] = raw
	}
	report := h.manager.Reconcile(ctx, subset)
	for _, name := range names {
		if err := report.Failures[name]; err != nil {
			return err
		}
	}
	return nil
}

func (h *host) close() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := h.manager.Close(ctx); err != nil {
		logger.Warn("shutdown finished with errors", "error", err)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
