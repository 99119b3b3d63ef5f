package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-hub-go/pkg/mcpmgr"
)

var (
	listJSON    bool
	listEnabled bool
	approveOff  bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Connect to every provider and show its status and capabilities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHost(nil)
		if err != nil {
			return err
		}
		defer h.close()
		if _, err := h.manager.Sync(cmd.Context()); err != nil {
			return err
		}
		states := h.manager.Providers()
		if listEnabled {
			states = h.manager.EnabledProviders()
		}
		if listJSON {
			return printJSON(states)
		}
		return printStates(states)
	},
}

func printStates(states []mcpmgr.ProviderState) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tDISABLED\tTIMEOUT\tTOOLS\tRESOURCES\tERROR")
	for _, s := range states {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%d\t%d\t%s\n",
			s.Name, s.Status, s.Disabled, s.Timeout,
			len(s.Tools), len(s.Resources)+len(s.ResourceTemplates),
			firstLine(s.Error))
	}
	return w.Flush()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}

var enableCmd = &cobra.Command{
	Use:   "enable <provider>",
	Short: "Clear the disabled flag of a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setDisabled(cmd, args[0], false)
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable <provider>",
	Short: "Set the disabled flag of a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setDisabled(cmd, args[0], true)
	},
}

func setDisabled(cmd *cobra.Command, name string, value bool) error {
	h, err := openHost(nil)
	if err != nil {
		return err
	}
	defer h.close()
	return h.manager.SetDisabled(cmd.Context(), name, value)
}

var approveCmd = &cobra.Command{
	Use:   "approve <provider> <tool>",
	Short: "Add a tool to the provider's auto-approve list",
	Example: `  mcphub approve github search_issues
  mcphub approve github search_issues --off`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHost(nil)
		if err != nil {
			return err
		}
		defer h.close()
		return h.manager.SetAutoApprove(cmd.Context(), args[0], args[1], !approveOff)
	},
}

var timeoutCmd = &cobra.Command{
	Use:   "timeout <provider> <seconds>",
	Short: "Set the tool call timeout of a provider",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		seconds, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", args[1], err)
		}
		h, err := openHost(nil)
		if err != nil {
			return err
		}
		defer h.close()
		return h.manager.SetTimeout(cmd.Context(), args[0], seconds)
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <provider>",
	Short: "Delete a provider from the settings file",
	Long: `Delete a provider from the settings file. A running "mcphub serve" with
--watch tears the connection down when it sees the change.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHost(nil)
		if err != nil {
			return err
		}
		defer h.close()
		if _, err := h.store.DeleteProvider(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("removed %s\n", args[0])
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart <provider>",
	Short: "Start a provider, restart it, and report the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHost(nil)
		if err != nil {
			return err
		}
		defer h.close()
		name := args[0]
		if err := h.connect(cmd.Context(), name); err != nil {
			logger.Warn("initial connect failed", "provider", name, "error", err)
		}
		if err := h.manager.Restart(cmd.Context(), name); err != nil {
			return err
		}
		state, _ := h.manager.Provider(name)
		return printStates([]mcpmgr.ProviderState{state})
	},
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "print provider snapshots as JSON")
	listCmd.Flags().BoolVar(&listEnabled, "enabled", false, "hide disabled providers")
	approveCmd.Flags().BoolVar(&approveOff, "off", false, "remove the tool from the list instead")
}
