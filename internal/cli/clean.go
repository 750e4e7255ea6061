package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quasarcli/quasar/internal/artifacts"
	"github.com/quasarcli/quasar/internal/workspace"
)

var cleanCmd = &cobra.Command{
	Use:     "clean",
	Aliases: []string{"c"},
	Short:   "Remove build output and generated files",
	Long: `Remove every output folder recorded by earlier builds, then the generated
.quasar folder (entry files, bundler target files, event logs and the last
build report).`,
	Args: cobra.NoArgs,
	RunE: runClean,
}

func runClean(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	logger, err := newLogger(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	file, err := loadConfig(configPath, logger)
	if err != nil {
		return err
	}

	removed, err := artifacts.Purge(file.Dir)
	for _, dir := range removed {
		fmt.Fprintf(out, "Removed %s\n", dir)
	}
	if err != nil {
		return err
	}

	root := workspace.New(file.Dir).Root()
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("failed to remove %s: %w", root, err)
	}
	logger.Debug("generated files removed", "dir", root)
	fmt.Fprintln(out, "Cleaned build artifacts")
	return nil
}
