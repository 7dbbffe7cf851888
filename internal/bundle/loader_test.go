package bundle

import (
	"archive/tar"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/lattice/backend/internal/logging"
	"github.com/latticehq/lattice/backend/internal/shared/utils"
)

const testManifestJSON = `{
  "id": "hello",
  "name": "Hello",
  "version": "1.0.0",
  "entry": "main.js",
  "protocol_version": 2,
  "ports": {"outputs": [{"id": "greeted", "type": "string"}]}
}`

const testManifestYAML = `
id: hello
name: Hello
version: 1.0.0
entry: main.js
protocol_version: 2
ports:
  outputs:
    - id: greeted
      type: string
`

const testEntry = `lattice.ready(); lattice.emit('greeted', 'hi');`

func zipBundle(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func tarGzBundle(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestLoadDirectoryBundle(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(testManifestJSON), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.js"), []byte(testEntry), 0o644))

	loader := NewLoader(logging.NewNop())
	bundle, err := loader.Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "hello@1.0.0", bundle.Manifest.Key())
	assert.Equal(t, []byte(testEntry), bundle.Entry)
	assert.NotEmpty(t, bundle.Hash)
}

func TestLoadZipBundle(t *testing.T) {
	data := zipBundle(t, map[string]string{
		"manifest.json": testManifestJSON,
		"main.js":       testEntry,
	})

	loader := NewLoader(logging.NewNop())
	bundle, err := loader.FromZip(data)
	require.NoError(t, err)
	assert.Equal(t, "hello", bundle.Manifest.ID)
	assert.Equal(t, []byte(testEntry), bundle.Entry)
}

func TestLoadTarGzBundle(t *testing.T) {
	data := tarGzBundle(t, map[string]string{
		"manifest.json": testManifestJSON,
		"main.js":       testEntry,
	})

	loader := NewLoader(logging.NewNop())
	bundle, err := loader.FromTarGz(data)
	require.NoError(t, err)
	assert.Equal(t, "hello", bundle.Manifest.ID)
}

func TestYAMLManifestConvertsToJSON(t *testing.T) {
	data := zipBundle(t, map[string]string{
		"manifest.yaml": testManifestYAML,
		"main.js":       testEntry,
	})

	loader := NewLoader(logging.NewNop())
	bundle, err := loader.FromZip(data)
	require.NoError(t, err)

	assert.Equal(t, "hello", bundle.Manifest.ID)
	assert.Equal(t, 2, bundle.Manifest.ProtocolVersion)
	// RawManifest must be JSON whatever the source format was
	assert.True(t, bytes.HasPrefix(bytes.TrimSpace(bundle.RawManifest), []byte("{")))
}

func TestMissingEntryResourceFails(t *testing.T) {
	data := zipBundle(t, map[string]string{
		"manifest.json": testManifestJSON,
	})

	loader := NewLoader(logging.NewNop())
	_, err := loader.FromZip(data)
	assert.ErrorContains(t, err, "entry resource")
}

func TestManifestNamingNoEntryStillLoads(t *testing.T) {
	data := zipBundle(t, map[string]string{
		"manifest.json": `{"id": "bare", "version": "1.0.0"}`,
	})

	// The loader only unpacks; the validator owns the verdict on an
	// incomplete manifest.
	loader := NewLoader(logging.NewNop())
	bundle, err := loader.FromZip(data)
	require.NoError(t, err)
	assert.Equal(t, "bare", bundle.Manifest.ID)
	assert.Empty(t, bundle.Entry)
	assert.NotEmpty(t, bundle.Hash)
}

func TestOversizedManifestRejected(t *testing.T) {
	pad := strings.Repeat("x", utils.MaxManifestSize)
	data := zipBundle(t, map[string]string{
		"manifest.json": `{"id": "big", "version": "1.0.0", "description": "` + pad + `"}`,
	})

	loader := NewLoader(logging.NewNop())
	_, err := loader.FromZip(data)
	assert.ErrorContains(t, err, "manifest document exceeds")
}

func TestMissingManifestFails(t *testing.T) {
	data := zipBundle(t, map[string]string{
		"main.js": testEntry,
	})

	loader := NewLoader(logging.NewNop())
	_, err := loader.FromZip(data)
	assert.ErrorContains(t, err, "no manifest")
}

func TestHashChangesWithContent(t *testing.T) {
	loader := NewLoader(logging.NewNop())

	first, err := loader.FromZip(zipBundle(t, map[string]string{
		"manifest.json": testManifestJSON,
		"main.js":       testEntry,
	}))
	require.NoError(t, err)

	second, err := loader.FromZip(zipBundle(t, map[string]string{
		"manifest.json": testManifestJSON,
		"main.js":       testEntry + " // mutated",
	}))
	require.NoError(t, err)

	assert.NotEqual(t, first.Hash, second.Hash)
}

func TestFetchBundleOverHTTP(t *testing.T) {
	archive := zipBundle(t, map[string]string{
		"manifest.json": testManifestJSON,
		"main.js":       testEntry,
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	loader := NewLoader(logging.NewNop())
	fetcher := NewFetcher(loader, logging.NewNop())

	bundle, err := fetcher.Fetch(context.Background(), srv.URL+"/hello.zip")
	require.NoError(t, err)
	assert.Equal(t, "hello@1.0.0", bundle.Manifest.Key())
}

func TestFetchNotFoundFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	loader := NewLoader(logging.NewNop())
	fetcher := NewFetcher(loader, logging.NewNop())

	_, err := fetcher.Fetch(context.Background(), srv.URL+"/missing.zip")
	assert.Error(t, err)
}
