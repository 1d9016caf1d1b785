package testing

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"
)

// Archive is a package archive built for a test, with its checksum
type Archive struct {
	Data   []byte
	SHA256 string
}

// ZipArchive builds a zip archive from a map of entry name to content
func ZipArchive(t *testing.T, files map[string]string) Archive {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("failed to add zip entry %s: %v", name, err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("failed to write zip entry %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to finish zip archive: %v", err)
	}

	sum := sha256.Sum256(buf.Bytes())
	return Archive{Data: buf.Bytes(), SHA256: hex.EncodeToString(sum[:])}
}

// PackageSpec describes one package entry for a generated manifest
type PackageSpec struct {
	ID       string
	Name     string
	Kind     string
	URL      string
	Size     int64
	SHA256   string
	Requires []string
	Optional bool
}

// ManifestJSON builds a manifest document the fetcher will accept
func ManifestJSON(t *testing.T, version string, packages ...PackageSpec) []byte {
	t.Helper()

	type pkg struct {
		ID       string   `json:"id"`
		Name     string   `json:"name"`
		Kind     string   `json:"kind"`
		URLs     []string `json:"urls"`
		Size     int64    `json:"size"`
		SHA256   string   `json:"sha256"`
		Requires []string `json:"requires,omitempty"`
		Optional bool     `json:"optional,omitempty"`
	}
	doc := struct {
		Version  string `json:"version"`
		Packages []pkg  `json:"packages"`
	}{Version: version}

	for _, p := range packages {
		name := p.Name
		if name == "" {
			name = p.ID
		}
		doc.Packages = append(doc.Packages, pkg{
			ID:       p.ID,
			Name:     name,
			Kind:     p.Kind,
			URLs:     []string{p.URL},
			Size:     p.Size,
			SHA256:   p.SHA256,
			Requires: p.Requires,
			Optional: p.Optional,
		})
	}

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("failed to marshal manifest fixture: %v", err)
	}
	return data
}
