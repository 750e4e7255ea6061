package artifacts

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCleanRemovesStaleOutput(t *testing.T) {
	dist := filepath.Join(t.TempDir(), "dist", "spa")
	writeFile(t, filepath.Join(dist, "old.txt"), "stale")

	require.NoError(t, Clean(dist))
	assert.DirExists(t, dist)
	assert.NoFileExists(t, filepath.Join(dist, "old.txt"))
}

func TestAddAndList(t *testing.T) {
	appDir := t.TempDir()

	dirs, err := List(appDir)
	require.NoError(t, err)
	assert.Empty(t, dirs)

	require.NoError(t, Add(appDir, "/app/dist/spa"))
	require.NoError(t, Add(appDir, "/app/dist/bex"))
	require.NoError(t, Add(appDir, "/app/dist/spa"))

	dirs, err = List(appDir)
	require.NoError(t, err)
	assert.Equal(t, []string{"/app/dist/bex", "/app/dist/spa"}, dirs)
}

func TestCapture(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "index.html"), "<html></html>")
	writeFile(t, filepath.Join(root, "assets", "app.js"), "console.log(1)")

	m, err := Capture(root)
	require.NoError(t, err)
	require.Len(t, m.Files, 2)
	assert.Equal(t, "assets/app.js", m.Files[0].Path)
	assert.Equal(t, "index.html", m.Files[1].Path)
	assert.Equal(t, int64(len("<html></html>")), m.Files[1].Size)
	assert.Len(t, m.Files[1].SHA256, 71)
	assert.True(t, m.Has("index.html"))
	assert.Equal(t, int64(27), m.TotalSize())

	again, err := Capture(root)
	require.NoError(t, err)
	assert.Equal(t, m.ID, again.ID)

	writeFile(t, filepath.Join(root, "index.html"), "<html>changed</html>")
	changed, err := Capture(root)
	require.NoError(t, err)
	assert.NotEqual(t, m.ID, changed.ID)
}

func TestCaptureEmptyDir(t *testing.T) {
	m, err := Capture(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, m.Files)
	assert.NotEmpty(t, m.ID)
}

func TestZipSkipsItself(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "manifest.json"), "{}")
	writeFile(t, filepath.Join(root, "www", "index.html"), "<html></html>")
	dest := filepath.Join(root, "Packaged.my-ext.zip")

	require.NoError(t, Zip(root, dest))

	zr, err := zip.OpenReader(dest)
	require.NoError(t, err)
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"manifest.json", "www/index.html"}, names)

	for _, f := range zr.File {
		if f.Name != "www/index.html" {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		assert.Equal(t, "<html></html>", string(data))
	}
}

func TestPurgeRemovesRecordedFolders(t *testing.T) {
	appDir := t.TempDir()
	spa := filepath.Join(appDir, "dist", "spa")
	www := filepath.Join(appDir, "src-cordova", "www")
	writeFile(t, filepath.Join(spa, "index.html"), "<html>")
	writeFile(t, filepath.Join(www, "index.html"), "<html>")
	writeFile(t, filepath.Join(appDir, "src", "App.vue"), "<template/>")
	require.NoError(t, Add(appDir, spa))
	require.NoError(t, Add(appDir, www))

	removed, err := Purge(appDir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{spa, www}, removed)
	assert.NoDirExists(t, spa)
	assert.NoDirExists(t, www)
	assert.FileExists(t, filepath.Join(appDir, "src", "App.vue"))

	dirs, err := List(appDir)
	require.NoError(t, err)
	assert.Empty(t, dirs)

	removed, err = Purge(appDir)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestPurgeRefusesFolderContainingApp(t *testing.T) {
	appDir := filepath.Join(t.TempDir(), "app")
	writeFile(t, filepath.Join(appDir, "index.html"), "<html>")
	require.NoError(t, Add(appDir, filepath.Dir(appDir)))

	_, err := Purge(appDir)
	require.Error(t, err)
	assert.FileExists(t, filepath.Join(appDir, "index.html"))
}
