// Package config discovers and loads the quasar configuration file.
//
// A configuration file holds a nested options tree. JSON and YAML files are
// static; HCL files may reference the invocation through the ctx variable
// (ctx.mode, ctx.dev, ctx.debug, ...) and are evaluated once per resolution.
package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"gopkg.in/yaml.v3"

	"github.com/quasarcli/quasar/internal/appctx"
)

// Format is the syntax of a configuration file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatHCL  Format = "hcl"
)

// FileNames lists the names Find looks for, in priority order.
var FileNames = []string{
	"quasar.config.json",
	"quasar.config.yaml",
	"quasar.config.yml",
	"quasar.config.hcl",
}

// File is a loaded configuration file. A File is never mutated after Load.
type File struct {
	// Path is empty for the implicit empty configuration.
	Path   string
	Dir    string
	Format Format
	// Digest is the sha256 of the raw file contents.
	Digest string

	tree    map[string]any
	hclFile *hcl.File
}

// Empty returns the configuration used when no file exists in dir.
func Empty(dir string) *File {
	return &File{Dir: dir, Format: FormatJSON, tree: map[string]any{}}
}

// Find searches start and its parents for a configuration file. It returns ""
// when none exists.
func Find(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("failed to resolve directory: %w", err)
	}

	for {
		for _, name := range FileNames {
			configPath := filepath.Join(dir, name)
			if _, err := os.Stat(configPath); err == nil {
				return configPath, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// FormatOf infers the format from the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".hcl":
		return FormatHCL, nil
	}
	return "", fmt.Errorf("unsupported config file extension %q\n\nHint: use one of %s", filepath.Ext(path), strings.Join(FileNames, ", "))
}

// Load reads and parses a configuration file. Static formats are validated
// immediately; HCL files are validated after evaluation.
func Load(path string) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	format, err := FormatOf(abs)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", abs, err)
	}

	sum := sha256.Sum256(data)
	f := &File{
		Path:   abs,
		Dir:    filepath.Dir(abs),
		Format: format,
		Digest: "sha256:" + hex.EncodeToString(sum[:]),
	}

	switch format {
	case FormatJSON:
		var tree map[string]any
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&tree); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", abs, err)
		}
		f.tree = tree
	case FormatYAML:
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", abs, err)
		}
		tree, err := normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", abs, err)
		}
		m, ok := tree.(map[string]any)
		if raw != nil && !ok {
			return nil, fmt.Errorf("failed to parse config file %s: top level must be a mapping", abs)
		}
		f.tree = m
	case FormatHCL:
		hf, err := parseHCL(data, abs)
		if err != nil {
			return nil, err
		}
		f.hclFile = hf
	}

	if f.tree == nil && f.hclFile == nil {
		f.tree = map[string]any{}
	}

	if f.tree != nil {
		if err := Validate(f.tree); err != nil {
			return nil, err
		}
	}

	return f, nil
}

// Evaluate returns a fresh copy of the options tree for the given invocation.
// Errors from HCL expressions are returned as-is so callers can attribute them.
func (f *File) Evaluate(ctx appctx.Context) (map[string]any, error) {
	if f.hclFile == nil {
		return Clone(f.tree).(map[string]any), nil
	}

	tree, err := evalHCL(f.hclFile, ctx)
	if err != nil {
		return nil, err
	}
	if err := Validate(tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// Clone deep-copies an options tree value.
func Clone(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Clone(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Clone(item)
		}
		return out
	default:
		return val
	}
}

// Decode converts a tree value into a typed struct through its JSON form.
func Decode(v any, out any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

var errNonStringKey = errors.New("mapping keys must be strings")

// normalize converts YAML-decoded values into the tree shape shared by every
// format: map[string]any, []any and scalars.
func normalize(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			n, err := normalize(item)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("%v: %w", k, errNonStringKey)
			}
			n, err := normalize(item)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out[key] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			n, err := normalize(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	default:
		return val, nil
	}
}
