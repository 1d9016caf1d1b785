package manifest

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind identifies what a package contains. The set is closed: the resolver
// and extractor switch exhaustively over it.
type Kind int

const (
	KindBase Kind = iota
	KindDeluxe
	KindSpritepack
	KindShared
)

var kindNames = map[Kind]string{
	KindBase:       "base",
	KindDeluxe:     "deluxe",
	KindSpritepack: "spritepack",
	KindShared:     "shared",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalJSON encodes the kind as its wire name
func (k Kind) MarshalJSON() ([]byte, error) {
	name, ok := kindNames[k]
	if !ok {
		return nil, fmt.Errorf("unknown package kind %d", int(k))
	}
	return json.Marshal(name)
}

// UnmarshalJSON decodes a wire name into a Kind
func (k *Kind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for kind, n := range kindNames {
		if n == strings.ToLower(name) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown package kind %q", name)
}

// Package describes one downloadable content package
type Package struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Kind     Kind     `json:"kind"`
	URLs     []string `json:"urls"`
	Size     int64    `json:"size"`
	SHA256   string   `json:"sha256"`
	Requires []string `json:"requires,omitempty"`
	Optional bool     `json:"optional,omitempty"`
}

// Mandatory reports whether a failed download of this package should fail
// the whole installation. Spritepacks and explicitly optional packages only
// downgrade to a warning.
func (p Package) Mandatory() bool {
	if p.Optional {
		return false
	}
	return p.Kind != KindSpritepack
}

// Manifest is the remote version document. It is the single source of truth
// for available packages and their download URLs; immutable once fetched.
type Manifest struct {
	Version  string    `json:"version"`
	Packages []Package `json:"packages"`
}

// Parse decodes and validates a manifest document. Unknown fields are
// ignored so newer manifest revisions keep working with older installers.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Package looks up a package descriptor by id
func (m *Manifest) Package(id string) (Package, bool) {
	for _, p := range m.Packages {
		if p.ID == id {
			return p, true
		}
	}
	return Package{}, false
}

func (m *Manifest) validate() error {
	if m.Version == "" {
		return fmt.Errorf("manifest missing version")
	}
	if len(m.Packages) == 0 {
		return fmt.Errorf("manifest lists no packages")
	}

	seen := make(map[string]struct{}, len(m.Packages))
	for _, p := range m.Packages {
		if p.ID == "" {
			return fmt.Errorf("manifest package missing id")
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("manifest lists package %q twice", p.ID)
		}
		seen[p.ID] = struct{}{}

		if len(p.URLs) == 0 {
			return fmt.Errorf("package %q has no download URLs", p.ID)
		}
		for _, u := range p.URLs {
			if u == "" {
				return fmt.Errorf("package %q has an empty download URL", p.ID)
			}
		}
		if p.Size < 0 {
			return fmt.Errorf("package %q has negative size", p.ID)
		}
		if len(p.SHA256) != 64 {
			return fmt.Errorf("package %q has invalid sha256 checksum", p.ID)
		}
	}

	// Shared dependencies must resolve within the same manifest
	for _, p := range m.Packages {
		for _, req := range p.Requires {
			if _, ok := seen[req]; !ok {
				return fmt.Errorf("package %q requires unknown package %q", p.ID, req)
			}
		}
	}

	return nil
}
