package resolve

import (
	"github.com/quasarcli/quasar/internal/appctx"
	"github.com/quasarcli/quasar/internal/modes"
)

// DefaultPort is the dev server port when none is configured.
const DefaultPort = 9000

func frameworkDefaults(ctx appctx.Context) map[string]any {
	return map[string]any{
		"build": map[string]any{
			"distDir":    "dist/" + string(ctx.Mode()),
			"bundler":    "vite",
			"publicPath": "/",
			"sourcemap":  ctx.Dev(),
			"minify":     !ctx.Dev(),
			"debug":      false,
			"analyze":    false,
			"env":        map[string]any{},
		},
		"devServer": map[string]any{
			"host":      "localhost",
			"port":      DefaultPort,
			"hubPort":   0,
			"open":      true,
			"stopGrace": "5s",
		},
		"sourceFiles": map[string]any{
			"indexHtmlTemplate": "index.html",
			"pwaServiceWorker":  "src-pwa/custom-service-worker.js",
			"electronMain":      "src-electron/electron-main.js",
			"electronPreload":   "src-electron/electron-preload.js",
			"ssrServerIndex":    "src-ssr/server.js",
		},
	}
}

func modeDefaults(m modes.Mode) map[string]any {
	switch m {
	case modes.PWA:
		return map[string]any{
			"pwa": map[string]any{
				"workboxMode":      "GenerateSW",
				"swFilename":       "sw.js",
				"manifestFilename": "manifest.json",
			},
		}
	case modes.SSR:
		return map[string]any{
			"ssr": map[string]any{
				"pwa":      false,
				"prodPort": 3000,
			},
		}
	case modes.BEX:
		return map[string]any{
			"bex": map[string]any{
				"contentScripts": []any{"my-content-script"},
			},
		}
	case modes.Electron:
		return map[string]any{
			"electron": map[string]any{
				"bundler":     "packager",
				"inspectPort": 5858,
			},
		}
	case modes.Cordova:
		return map[string]any{
			"cordova": map[string]any{},
			"devServer": map[string]any{
				"open": false,
			},
		}
	case modes.Capacitor:
		return map[string]any{
			"capacitor": map[string]any{
				"hideSplashscreen": true,
			},
			"devServer": map[string]any{
				"open": false,
			},
		}
	}
	return map[string]any{}
}
