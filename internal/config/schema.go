package config

import (
	"fmt"
	"sort"
	"strings"
)

// Hook names accepted on the config object and in extension declarations.
var HookNames = []string{"beforeDev", "afterDev", "beforeBuild", "afterBuild", "onPublish"}

// Sections are the recognised top-level keys.
var Sections = []string{
	"build", "devServer", "ssr", "pwa", "bex", "electron", "cordova", "capacitor",
	"modes", "extensions", "bundlers", "publish", "sourceFiles", "boot", "css",
}

var listExamples = map[string]string{"boot": "axios", "css": "app.scss"}

// Extension is an extension declared in the config file. Each hook maps to the
// shell commands run for it, in order.
type Extension struct {
	ID    string              `json:"id"`
	Hooks map[string][]string `json:"hooks,omitempty"`
}

// Tool holds the commands used to drive one bundler or packager. The {config}
// placeholder is replaced with the path of the generated target config.
type Tool struct {
	Build string   `json:"build,omitempty"`
	Watch string   `json:"watch,omitempty"`
	Env   []string `json:"env,omitempty"`
}

// Publish configures where a build is published after afterBuild.
type Publish struct {
	S3 *S3 `json:"s3,omitempty"`
}

// S3 configures the S3 publisher. Credentials fall back to the standard AWS
// environment variables.
type S3 struct {
	Endpoint  string `json:"endpoint"`
	Bucket    string `json:"bucket"`
	Prefix    string `json:"prefix,omitempty"`
	Region    string `json:"region,omitempty"`
	AccessKey string `json:"accessKey,omitempty"`
	SecretKey string `json:"secretKey,omitempty"`
	UseSSL    bool   `json:"useSSL,omitempty"`
}

// Validate checks the shape of an options tree and returns user-friendly errors.
// Semantic checks that depend on the invocation happen during resolution.
func Validate(tree map[string]any) error {
	known := make(map[string]bool, len(Sections))
	for _, s := range Sections {
		known[s] = true
	}

	keys := make([]string, 0, len(tree))
	for k := range tree {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		base := strings.TrimSuffix(k, "+")
		if !known[base] {
			return fmt.Errorf("configuration error: unknown section '%s'\n\nHint: recognised sections are:\n  %s", k, strings.Join(Sections, ", "))
		}
		switch base {
		case "extensions":
			if err := validateExtensions(tree[k]); err != nil {
				return err
			}
		case "boot", "css":
			if _, err := Commands(tree[k]); err != nil {
				return fmt.Errorf("configuration error: '%s' must be a list of file names\n\nHint: for example:\n  \"%s\": [\"%s\"]", k, base, listExamples[base])
			}
		default:
			if _, ok := tree[k].(map[string]any); !ok && tree[k] != nil {
				return fmt.Errorf("configuration error: section '%s' must be an object\n\nHint: wrap the settings in braces:\n  \"%s\": { ... }", k, k)
			}
		}
	}

	if build, ok := tree["build"].(map[string]any); ok {
		for _, hook := range HookNames {
			if err := validateCommands("build."+hook, build[hook]); err != nil {
				return err
			}
		}
	}

	if bundlers, ok := tree["bundlers"].(map[string]any); ok {
		for name, v := range bundlers {
			var tool Tool
			if err := Decode(v, &tool); err != nil || (tool.Build == "" && tool.Watch == "") {
				return fmt.Errorf("configuration error: bundler '%s' needs a build or watch command\n\nHint: declare the commands to run:\n  \"bundlers\": {\n    \"%s\": {\"build\": \"%s build --config {config}\", \"watch\": \"%s dev --config {config}\"}\n  }", name, name, name, name)
			}
		}
	}

	if publish, ok := tree["publish"].(map[string]any); ok {
		var p Publish
		if err := Decode(publish, &p); err != nil {
			return fmt.Errorf("configuration error: invalid 'publish' section: %v", err)
		}
		if p.S3 != nil && (p.S3.Endpoint == "" || p.S3.Bucket == "") {
			return fmt.Errorf("configuration error: 'publish.s3' requires endpoint and bucket\n\nHint:\n  \"publish\": {\n    \"s3\": {\"endpoint\": \"s3.amazonaws.com\", \"bucket\": \"my-app\"}\n  }")
		}
	}

	return nil
}

func validateExtensions(v any) error {
	if v == nil {
		return nil
	}
	var exts []Extension
	if err := Decode(v, &exts); err != nil {
		return fmt.Errorf("configuration error: 'extensions' must be a list of {id, hooks}\n\nHint:\n  \"extensions\": [\n    {\"id\": \"my-ext\", \"hooks\": {\"beforeBuild\": [\"./scripts/prepare.sh\"]}}\n  ]")
	}

	valid := make(map[string]bool, len(HookNames))
	for _, h := range HookNames {
		valid[h] = true
	}

	seen := make(map[string]bool)
	for i, ext := range exts {
		if ext.ID == "" {
			return fmt.Errorf("configuration error: extension #%d has no 'id'\n\nHint: every extension needs a unique id:\n  {\"id\": \"my-ext\"}", i)
		}
		if seen[ext.ID] {
			return fmt.Errorf("configuration error: duplicate extension id '%s'", ext.ID)
		}
		seen[ext.ID] = true
		for hook := range ext.Hooks {
			if !valid[hook] {
				return fmt.Errorf("configuration error: extension '%s' declares unknown hook '%s'\n\nHint: hooks are %s", ext.ID, hook, strings.Join(HookNames, ", "))
			}
		}
	}
	return nil
}

func validateCommands(field string, v any) error {
	if _, err := Commands(v); err != nil {
		return fmt.Errorf("configuration error: '%s' must be a command or a list of commands\n\nHint:\n  \"%s\": [\"npm run lint\"]", field, field)
	}
	return nil
}

// Commands reads a lifecycle callback value: nil, a string, or a list of strings.
func Commands(v any) ([]string, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{val}, nil
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected string or list, got %T", v)
}
