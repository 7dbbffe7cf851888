// Package bundle acquires widget bundles: a manifest document plus the
// entry resource it names, packaged as a directory, a zip, or a gzipped
// tarball, locally or over HTTP. The loader only unpacks and decodes;
// judging the content is the validator's job.
package bundle

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/latticehq/lattice/backend/internal/logging"
	"github.com/latticehq/lattice/backend/internal/shared/types"
	"github.com/latticehq/lattice/backend/internal/shared/utils"
)

// Bundle is an unpacked widget package ready for validation
type Bundle struct {
	Manifest    *types.WidgetManifest
	RawManifest []byte // canonical JSON, post YAML conversion
	Entry       []byte
	Hash        string // identity of the exact bytes submitted
}

// manifestNames are tried in order inside a bundle
var manifestNames = []string{"manifest.json", "manifest.yaml", "manifest.yml"}

// MaxEntrySize bounds how large an entry resource may be
const MaxEntrySize = utils.MaxEntrySize

// Loader unpacks bundles from the local filesystem or raw archive bytes
type Loader struct {
	logger     *logging.Logger
	identifier *utils.BundleIdentifier
}

// NewLoader creates a bundle loader
func NewLoader(logger *logging.Logger) *Loader {
	return &Loader{
		logger:     logger.Component("bundle"),
		identifier: utils.NewBundleIdentifier(nil),
	}
}

// Load reads a bundle from a path: a directory, a .zip, or a
// .tar.gz/.tgz archive.
func (l *Loader) Load(bundlePath string) (*Bundle, error) {
	info, err := os.Stat(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("bundle path: %w", err)
	}
	if info.IsDir() {
		return l.loadDir(bundlePath)
	}

	data, err := os.ReadFile(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("reading bundle: %w", err)
	}
	switch {
	case strings.HasSuffix(bundlePath, ".zip"):
		return l.FromZip(data)
	case strings.HasSuffix(bundlePath, ".tar.gz"), strings.HasSuffix(bundlePath, ".tgz"):
		return l.FromTarGz(data)
	default:
		return nil, fmt.Errorf("unsupported bundle format %q", filepath.Ext(bundlePath))
	}
}

func (l *Loader) loadDir(dir string) (*Bundle, error) {
	files := make(map[string][]byte)
	for _, name := range manifestNames {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err == nil {
			files[name] = data
			break
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no manifest document in %s", dir)
	}

	bundle, entryName, err := l.assembleManifest(files)
	if err != nil {
		return nil, err
	}
	var entry []byte
	if entryName != "" {
		entry, err = os.ReadFile(filepath.Join(dir, entryName))
		if err != nil {
			return nil, fmt.Errorf("entry resource %q: %w", entryName, err)
		}
	}
	return l.finish(bundle, entry)
}

// FromZip unpacks a bundle from zip archive bytes
func (l *Loader) FromZip(data []byte) (*Bundle, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening zip bundle: %w", err)
	}

	files := make(map[string][]byte)
	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("zip entry %s: %w", f.Name, err)
		}
		content, err := io.ReadAll(io.LimitReader(rc, MaxEntrySize+1))
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("zip entry %s: %w", f.Name, err)
		}
		files[path.Base(f.Name)] = content
	}
	return l.fromFiles(files)
}

// FromTarGz unpacks a bundle from gzipped tarball bytes
func (l *Loader) FromTarGz(data []byte) (*Bundle, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening gzip bundle: %w", err)
	}
	defer gz.Close()

	files := make(map[string][]byte)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading tarball: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		content, err := io.ReadAll(io.LimitReader(tr, MaxEntrySize+1))
		if err != nil {
			return nil, fmt.Errorf("tar entry %s: %w", hdr.Name, err)
		}
		files[path.Base(hdr.Name)] = content
	}
	return l.fromFiles(files)
}

func (l *Loader) fromFiles(files map[string][]byte) (*Bundle, error) {
	bundle, entryName, err := l.assembleManifest(files)
	if err != nil {
		return nil, err
	}
	var entry []byte
	if entryName != "" {
		var ok bool
		entry, ok = files[path.Base(entryName)]
		if !ok {
			return nil, fmt.Errorf("bundle is missing its entry resource %q", entryName)
		}
	}
	return l.finish(bundle, entry)
}

// assembleManifest finds and decodes the manifest document, converting
// YAML to canonical JSON so every downstream consumer sees one shape.
func (l *Loader) assembleManifest(files map[string][]byte) (*Bundle, string, error) {
	var raw []byte
	var name string
	for _, candidate := range manifestNames {
		if data, ok := files[candidate]; ok {
			raw, name = data, candidate
			break
		}
	}
	if raw == nil {
		return nil, "", fmt.Errorf("bundle contains no manifest document")
	}
	if len(raw) > utils.MaxManifestSize {
		return nil, "", fmt.Errorf("manifest document exceeds %d bytes", utils.MaxManifestSize)
	}

	if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
		var doc map[string]interface{}
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, "", fmt.Errorf("decoding %s: %w", name, err)
		}
		converted, err := sonic.Marshal(doc)
		if err != nil {
			return nil, "", fmt.Errorf("converting %s to JSON: %w", name, err)
		}
		raw = converted
	}

	var manifest types.WidgetManifest
	if err := sonic.Unmarshal(raw, &manifest); err != nil {
		return nil, "", fmt.Errorf("decoding manifest: %w", err)
	}
	// A manifest naming no entry still loads; the validator reports the
	// structural failure with the rest of its verdict.
	return &Bundle{Manifest: &manifest, RawManifest: raw}, manifest.Entry, nil
}

func (l *Loader) finish(bundle *Bundle, entry []byte) (*Bundle, error) {
	if len(entry) > MaxEntrySize {
		return nil, fmt.Errorf("entry resource exceeds %d bytes", MaxEntrySize)
	}
	bundle.Entry = entry
	bundle.Hash = l.identifier.GenerateHash(bundle.RawManifest, entry)

	l.logger.Info("Loaded bundle",
		zap.String("widget", bundle.Manifest.Key()),
		zap.String("hash", bundle.Hash[:8]),
		zap.Int("entry_bytes", len(entry)),
	)
	return bundle, nil
}
