package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/quasarcli/quasar/internal/canonical"
)

// FileInfo is one file of a build output.
type FileInfo struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// Manifest lists every file under an output folder.
type Manifest struct {
	// ID identifies the content: equal outputs get equal IDs.
	ID    string     `json:"id"`
	Root  string     `json:"root"`
	Files []FileInfo `json:"files"`
}

// Capture walks root and checksums every regular file. Paths are slash
// separated and sorted.
func Capture(root string) (*Manifest, error) {
	files := []FileInfo{}
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("failed to compute relative path: %w", err)
		}
		rel = filepath.ToSlash(rel)

		sum, err := SHA256File(path)
		if err != nil {
			return fmt.Errorf("failed to compute checksum for %s: %w", rel, err)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		files = append(files, FileInfo{Path: rel, SHA256: sum, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	fp, err := canonical.Fingerprint(files)
	if err != nil {
		return nil, fmt.Errorf("failed to compute manifest id: %w", err)
	}
	return &Manifest{ID: "out-" + canonical.Short(fp, 12), Root: root, Files: files}, nil
}

// Has reports whether the manifest lists rel.
func (m *Manifest) Has(rel string) bool {
	for _, f := range m.Files {
		if f.Path == rel {
			return true
		}
	}
	return false
}

// TotalSize sums the sizes of every file.
func (m *Manifest) TotalSize() int64 {
	var n int64
	for _, f := range m.Files {
		n += f.Size
	}
	return n
}

// SHA256File computes the SHA256 hash of a file and returns it as
// "sha256:hexstring".
func SHA256File(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return "sha256:" + hex.EncodeToString(hasher.Sum(nil)), nil
}
