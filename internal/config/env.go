package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/quasarcli/quasar/internal/appctx"
)

// EnvFiles lists the .env candidates for ctx in load order. Later files win.
func EnvFiles(dir string, ctx appctx.Context) []string {
	phase := "prod"
	if ctx.Dev() {
		phase = "dev"
	}
	names := []string{
		".env",
		".env.local",
		".env." + phase,
		".env." + phase + ".local",
		".env." + string(ctx.Mode()),
	}
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
	}
	return paths
}

// LoadEnv reads every existing .env file for ctx and merges them. It returns
// the merged values and the files that were read.
func LoadEnv(dir string, ctx appctx.Context) (map[string]string, []string, error) {
	env := make(map[string]string)
	var loaded []string

	for _, path := range EnvFiles(dir, ctx) {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}

		values, err := godotenv.Read(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		for k, v := range values {
			env[k] = v
		}
		loaded = append(loaded, path)
	}

	return env, loaded, nil
}
