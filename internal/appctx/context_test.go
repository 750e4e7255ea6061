package appctx

import (
	"testing"

	"github.com/quasarcli/quasar/internal/modes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToSPA(t *testing.T) {
	ctx, err := New(Args{AppDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, modes.SPA, ctx.Mode())
	assert.True(t, ctx.Prod())
	assert.Equal(t, "build spa", ctx.String())
}

func TestNewAliasSetsTarget(t *testing.T) {
	ctx, err := New(Args{Mode: "ios", Dev: true})
	require.NoError(t, err)
	assert.Equal(t, modes.Cordova, ctx.Mode())
	assert.Equal(t, "ios", ctx.Target())
}

func TestNewRejectsInvalidArgs(t *testing.T) {
	tests := []struct {
		name string
		args Args
		msg  string
	}{
		{name: "alias conflict", args: Args{Mode: "ios", Target: "android"}, msg: "implies target"},
		{name: "cordova dev without target", args: Args{Mode: "cordova", Dev: true}, msg: "requires --target"},
		{name: "unknown capacitor target", args: Args{Mode: "capacitor", Target: "tizen"}, msg: "unknown capacitor target"},
		{name: "bundler outside electron", args: Args{Mode: "spa", Bundler: "builder"}, msg: "only applies to electron"},
		{name: "unknown electron bundler", args: Args{Mode: "electron", Bundler: "forge"}, msg: "unknown electron bundler"},
		{name: "bad port", args: Args{Port: 70000}, msg: "invalid port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestVars(t *testing.T) {
	ctx, err := New(Args{Mode: "ssr", Dev: true, Debug: true})
	require.NoError(t, err)

	vars := ctx.Vars()
	assert.Equal(t, "ssr", vars["mode"])
	assert.Equal(t, true, vars["dev"])
	assert.Equal(t, false, vars["prod"])
	assert.Equal(t, true, vars["debug"])
}
