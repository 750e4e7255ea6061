package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/quasarcli/quasar/internal/appctx"
	"github.com/quasarcli/quasar/internal/config"
	"github.com/quasarcli/quasar/internal/resolve"
)

// resolverCacheSize bounds the resolutions kept while a dev session re-reads
// the config file.
const resolverCacheSize = 16

func addContextFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("mode", "m", "spa", "App mode (spa, ssr, pwa, bex, electron, cordova, capacitor)")
	f.StringP("target", "T", "", "Target platform for cordova/capacitor (android, ios)")
	f.StringP("arch", "A", "", "Electron architecture")
	f.StringP("bundler", "b", "", "Electron bundler (packager, builder)")
	f.BoolP("debug", "d", false, "Build for debugging")
	f.BoolP("skip-pkg", "s", false, "Skip packaging (bex zip, electron and native packagers)")
	f.StringP("publish", "P", "", "Publish the build output after a successful build")
	f.IntP("port", "p", 0, "Dev server port (overrides devServer.port)")
	f.StringP("hostname", "H", "", "Dev server host (overrides devServer.host)")
}

func contextArgs(cmd *cobra.Command, appDir string, dev bool) (appctx.Args, error) {
	f := cmd.Flags()
	args := appctx.Args{Dev: dev, AppDir: appDir}
	var err error

	if args.Mode, err = f.GetString("mode"); err != nil {
		return args, err
	}
	if args.Target, err = f.GetString("target"); err != nil {
		return args, err
	}
	if args.Arch, err = f.GetString("arch"); err != nil {
		return args, err
	}
	if args.Bundler, err = f.GetString("bundler"); err != nil {
		return args, err
	}
	if args.Debug, err = f.GetBool("debug"); err != nil {
		return args, err
	}
	if args.SkipPkg, err = f.GetBool("skip-pkg"); err != nil {
		return args, err
	}
	if args.Publish, err = f.GetString("publish"); err != nil {
		return args, err
	}
	if args.Port, err = f.GetInt("port"); err != nil {
		return args, err
	}
	if args.Host, err = f.GetString("hostname"); err != nil {
		return args, err
	}
	return args, nil
}

// invocation is one resolved CLI run. The file is re-read by reload.
type invocation struct {
	path     string
	ctx      appctx.Context
	resolver *resolve.Resolver
	logger   *slog.Logger
}

// prepare finds and loads the config file, builds the context from the flags
// and resolves the configuration.
func prepare(cmd *cobra.Command, logger *slog.Logger, dev bool) (*invocation, *resolve.Resolved, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, err
	}

	file, err := loadConfig(configPath, logger)
	if err != nil {
		return nil, nil, err
	}

	args, err := contextArgs(cmd, file.Dir, dev)
	if err != nil {
		return nil, nil, err
	}
	ctx, err := appctx.New(args)
	if err != nil {
		return nil, nil, err
	}

	resolver, err := resolve.New(logger, resolverCacheSize)
	if err != nil {
		return nil, nil, err
	}

	inv := &invocation{path: file.Path, ctx: ctx, resolver: resolver, logger: logger}
	res, err := resolver.Resolve(file, ctx)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("configuration resolved", "mode", ctx.Mode(), "targets", len(res.SubTargets), "config", file.Path)
	return inv, res, nil
}

// reload re-reads the config file and resolves it for the same invocation.
func (inv *invocation) reload() (*resolve.Resolved, error) {
	file := config.Empty(inv.ctx.AppDir())
	if inv.path != "" {
		f, err := config.Load(inv.path)
		if err != nil {
			return nil, &resolve.ConfigError{Stage: resolve.StageUser, Err: err}
		}
		file = f
	}
	return inv.resolver.Resolve(file, inv.ctx)
}

func loadConfig(configPath string, logger *slog.Logger) (*config.File, error) {
	if configPath != "" {
		file, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
		return file, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}

	found, err := config.Find(cwd)
	if err != nil {
		return nil, err
	}
	if found == "" {
		logger.Info("no config file found, using defaults", "dir", cwd)
		return config.Empty(cwd), nil
	}

	logger.Debug("found config file", "path", found)
	file, err := config.Load(found)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return file, nil
}
