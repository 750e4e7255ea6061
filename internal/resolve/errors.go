package resolve

import (
	"errors"
	"fmt"
)

// Resolution stages, in the order they run.
const (
	StageDefaults = "defaults"
	StageUser     = "user"
	StageUserMode = "user-mode"
	StageEnv      = "env"
	StageCLI      = "cli"
	StageValidate = "validate"
	StageTargets  = "targets"
)

// ErrNoEntry is returned when a sub-target's entry source does not exist.
var ErrNoEntry = errors.New("no entry point")

// ErrUnsafeOutput is returned when cleaning an output folder would delete the
// app itself.
var ErrUnsafeOutput = errors.New("output folder would remove the app")

// ConfigError reports a configuration that cannot be resolved. Stage names the
// resolution stage that failed.
type ConfigError struct {
	Stage string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error (stage %s): %v", e.Stage, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func stageErr(stage string, err error) error {
	return &ConfigError{Stage: stage, Err: err}
}
