package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vikashloomba/mcp-hub-go/pkg/settings"
)

const (
	keySettings    = "settings"
	keyLogLevel    = "log-level"
	keyGatewayAddr = "gateway-addr"
	keyGatewayPath = "gateway-path"
	keyMetricsAddr = "metrics-addr"
	keyWatch       = "watch"
	keyLogJSONRPC  = "log-jsonrpc"
)

var (
	cfgFile  string
	levelVar = new(slog.LevelVar)
	logger   = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
)

var rootCmd = &cobra.Command{
	Use:   "mcphub",
	Short: "Supervise MCP providers declared in a settings file",
	Long: `mcphub keeps one live MCP connection per provider declared under
"mcpServers" in the settings file, applies per-provider policy (disabled,
autoApprove, timeout), and can expose every enabled provider through one
Streamable HTTP endpoint.

Every flag can also be set through the environment with the MCPHUB_ prefix,
for example MCPHUB_LOG_LEVEL=debug.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		return setLogLevel(viper.GetString(keyLogLevel))
	},
}

// Execute runs the root command.
func Execute() error {
	rootCmd.Version = version
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "optional host configuration file (yaml, toml or json)")
	flags.String(keySettings, "", "provider settings file (default ~/.multi-chat/mcp_settings.json)")
	flags.String(keyLogLevel, "info", "log level: debug, info, warn or error")
	flags.Bool(keyLogJSONRPC, false, "log every JSON-RPC message at debug level")

	if err := viper.BindPFlags(flags); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(listCmd, callCmd, readCmd, enableCmd, disableCmd,
		approveCmd, timeoutCmd, removeCmd, restartCmd, serveCmd)
}

func loadConfig() error {
	viper.SetEnvPrefix("MCPHUB")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if cfgFile == "" {
		return nil
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

func setLogLevel(name string) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", name, err)
	}
	levelVar.Set(level)
	return nil
}

func settingsPath() (string, error) {
	if path := viper.GetString(keySettings); path != "" {
		return path, nil
	}
	return settings.DefaultPath()
}
