package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var templateVars map[string]string

var callCmd = &cobra.Command{
	Use:   "call <provider> <tool> [json-arguments]",
	Short: "Call a tool on one provider",
	Example: `  mcphub call filesystem read_file '{"path": "./README.md"}'
  mcphub call git git_status`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		arguments := map[string]any{}
		if len(args) == 3 {
			var err error
			if arguments, err = parseArguments(args[2]); err != nil {
				return err
			}
		}
		h, err := openHost(nil)
		if err != nil {
			return err
		}
		defer h.close()
		if err := h.connect(cmd.Context(), args[0]); err != nil {
			return err
		}
		res, err := h.manager.CallTool(cmd.Context(), args[0], args[1], arguments)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var readCmd = &cobra.Command{
	Use:   "read <provider> <uri-or-template>",
	Short: "Read a resource from one provider",
	Long: `Read a resource from one provider. When --var is given the second
argument is treated as one of the provider's resource templates and expanded
before reading.`,
	Example: `  mcphub read docs file:///notes.md
  mcphub read docs 'file:///{path}' --var path=notes.md`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHost(nil)
		if err != nil {
			return err
		}
		defer h.close()
		if err := h.connect(cmd.Context(), args[0]); err != nil {
			return err
		}
		uri := args[1]
		if len(templateVars) > 0 {
			if uri, err = h.manager.ExpandResourceTemplate(args[0], uri, templateVars); err != nil {
				return err
			}
		}
		res, err := h.manager.ReadResource(cmd.Context(), args[0], uri)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

func parseArguments(raw string) (map[string]any, error) {
	var arguments map[string]any
	if err := json.Unmarshal([]byte(raw), &arguments); err != nil {
		return nil, fmt.Errorf("tool arguments must be a JSON object: %w", err)
	}
	return arguments, nil
}

func init() {
	readCmd.Flags().StringToStringVar(&templateVars, "var", nil, "template variable as key=value, repeatable")
}
