package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the resolved configuration",
	Long: `Print the configuration a build (or, with --dev, a dev session) would use,
after merging defaults, the config file, .env files and flags.`,
	RunE: runInspect,
}

func init() {
	addContextFlags(inspectCmd)
	inspectCmd.Flags().String("format", "json", "Output format (json, yaml)")
	inspectCmd.Flags().String("sub-target", "", "Print only the named sub-target")
	inspectCmd.Flags().Bool("dev", false, "Resolve for a dev session instead of a build")
}

func runInspect(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	format = strings.ToLower(strings.TrimSpace(format))
	if format != "json" && format != "yaml" {
		return fmt.Errorf("unsupported format %q (expected json|yaml)", format)
	}
	subTarget, err := cmd.Flags().GetString("sub-target")
	if err != nil {
		return err
	}
	dev, err := cmd.Flags().GetBool("dev")
	if err != nil {
		return err
	}

	_, res, err := prepare(cmd, logger, dev)
	if err != nil {
		return err
	}

	var value any = res
	if subTarget != "" {
		st, ok := res.Target(subTarget)
		if !ok {
			names := make([]string, 0, len(res.SubTargets))
			for _, t := range res.SubTargets {
				names = append(names, t.Name)
			}
			return fmt.Errorf("no sub-target %q in mode %s\n\nHint: available sub-targets: %s", subTarget, res.Context.Mode(), strings.Join(names, ", "))
		}
		value = st
	}
	return writeValue(cmd.OutOrStdout(), value, format)
}

// writeValue prints v with its JSON field names in either format.
func writeValue(w io.Writer, v any, format string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	if format == "json" {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(tree); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	return enc.Close()
}
