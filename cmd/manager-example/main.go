package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/vikashloomba/mcp-hub-go/pkg/mcpmgr"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	manager := mcpmgr.NewManager(nil, &mcpmgr.ManagerOptions{
		ClientName:     "manager-example",
		DefaultTimeout: 10 * time.Second,
		Logger:         logger,
	})

	ctx := context.Background()
	report := manager.Reconcile(ctx, map[string]json.RawMessage{
		"example-stdio": json.RawMessage(`{"command": "./my-mcp-server", "args": ["--serve"], "timeout": 10}`),
	})
	for name, err := range report.Failures {
		fmt.Printf("%s failed: %v\n", name, err)
	}

	for _, state := range manager.Providers() {
		fmt.Printf("Configured provider: %s\n", state.Name)
		fmt.Printf("Status: %s\n", state.Status)
		for _, tool := range state.Tools {
			fmt.Printf("  tool %s (auto-approve: %t)\n", tool.Name, tool.AutoApprove)
		}
	}

	if err := manager.Close(ctx); err != nil {
		fmt.Printf("close error: %v\n", err)
	}
}
