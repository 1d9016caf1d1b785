package manifest

import (
	"strings"
	"testing"
)

const validDoc = `{
  "version": "0.12.15",
  "packages": [
    {
      "id": "mas-deluxe",
      "name": "Deluxe Edition",
      "kind": "deluxe",
      "urls": ["https://example.com/mas-dlx.zip", "https://mirror.example.com/mas-dlx.zip"],
      "size": 1048576,
      "sha256": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
      "requires": ["runtime-assets"]
    },
    {
      "id": "mas-default",
      "name": "Default Edition",
      "kind": "base",
      "urls": ["https://example.com/mas-def.zip"],
      "size": 524288,
      "sha256": "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
      "requires": ["runtime-assets"]
    },
    {
      "id": "runtime-assets",
      "name": "Shared Runtime Assets",
      "kind": "shared",
      "urls": ["https://example.com/runtime.zip"],
      "size": 2048,
      "sha256": "cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"
    },
    {
      "id": "spritepack-combined",
      "name": "Spritepacks",
      "kind": "spritepack",
      "urls": ["https://example.com/spritepacks.zip"],
      "size": 4096,
      "sha256": "dddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddd",
      "optional": true
    }
  ]
}`

// TestParse_Valid tests parsing a well-formed manifest
func TestParse_Valid(t *testing.T) {
	m, err := Parse([]byte(validDoc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if m.Version != "0.12.15" {
		t.Errorf("Version = %q, want 0.12.15", m.Version)
	}
	if len(m.Packages) != 4 {
		t.Fatalf("Parse() returned %d packages, want 4", len(m.Packages))
	}

	dlx, ok := m.Package("mas-deluxe")
	if !ok {
		t.Fatal("Package(mas-deluxe) not found")
	}
	if dlx.Kind != KindDeluxe {
		t.Errorf("mas-deluxe kind = %v, want deluxe", dlx.Kind)
	}
	if len(dlx.URLs) != 2 {
		t.Errorf("mas-deluxe has %d URLs, want 2 (mirrors)", len(dlx.URLs))
	}
	if !dlx.Mandatory() {
		t.Error("deluxe edition should be mandatory")
	}

	spr, _ := m.Package("spritepack-combined")
	if spr.Mandatory() {
		t.Error("spritepack should not be mandatory")
	}
}

// TestParse_UnknownFieldsIgnored tests forward compatibility
func TestParse_UnknownFieldsIgnored(t *testing.T) {
	doc := `{
  "version": "1.0.0",
  "release_notes_url": "https://example.com/notes",
  "packages": [
    {
      "id": "mas-default",
      "name": "Default Edition",
      "kind": "base",
      "urls": ["https://example.com/mas.zip"],
      "size": 1,
      "sha256": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
      "signature": "not-yet-supported"
    }
  ]
}`

	m, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() error = %v, unknown fields must be ignored", err)
	}
	if len(m.Packages) != 1 {
		t.Errorf("Parse() returned %d packages, want 1", len(m.Packages))
	}
}

// TestParse_Invalid tests schema validation failures
func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		doc       string
		errSubstr string
	}{
		{
			name:      "not json",
			doc:       `not a manifest`,
			errSubstr: "parse",
		},
		{
			name:      "missing version",
			doc:       `{"packages": [{"id": "a", "kind": "base", "urls": ["u"], "sha256": "` + strings.Repeat("a", 64) + `"}]}`,
			errSubstr: "version",
		},
		{
			name:      "no packages",
			doc:       `{"version": "1.0.0", "packages": []}`,
			errSubstr: "no packages",
		},
		{
			name:      "missing id",
			doc:       `{"version": "1.0.0", "packages": [{"kind": "base", "urls": ["u"], "sha256": "` + strings.Repeat("a", 64) + `"}]}`,
			errSubstr: "missing id",
		},
		{
			name: "duplicate id",
			doc: `{"version": "1.0.0", "packages": [
				{"id": "a", "kind": "base", "urls": ["u"], "sha256": "` + strings.Repeat("a", 64) + `"},
				{"id": "a", "kind": "base", "urls": ["u"], "sha256": "` + strings.Repeat("a", 64) + `"}]}`,
			errSubstr: "twice",
		},
		{
			name:      "no urls",
			doc:       `{"version": "1.0.0", "packages": [{"id": "a", "kind": "base", "urls": [], "sha256": "` + strings.Repeat("a", 64) + `"}]}`,
			errSubstr: "no download URLs",
		},
		{
			name:      "bad checksum length",
			doc:       `{"version": "1.0.0", "packages": [{"id": "a", "kind": "base", "urls": ["u"], "sha256": "abc"}]}`,
			errSubstr: "sha256",
		},
		{
			name:      "unknown kind",
			doc:       `{"version": "1.0.0", "packages": [{"id": "a", "kind": "dlc", "urls": ["u"], "sha256": "` + strings.Repeat("a", 64) + `"}]}`,
			errSubstr: "unknown package kind",
		},
		{
			name: "dangling requires",
			doc: `{"version": "1.0.0", "packages": [
				{"id": "a", "kind": "base", "urls": ["u"], "sha256": "` + strings.Repeat("a", 64) + `", "requires": ["ghost"]}]}`,
			errSubstr: "unknown package",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("Parse() expected error, got nil")
			}
			if !strings.Contains(strings.ToLower(err.Error()), strings.ToLower(tt.errSubstr)) {
				t.Errorf("Parse() error = %v, want substring %q", err, tt.errSubstr)
			}
		})
	}
}

// TestKind_RoundTrip tests kind wire names
func TestKind_RoundTrip(t *testing.T) {
	for _, k := range []Kind{KindBase, KindDeluxe, KindSpritepack, KindShared} {
		data, err := k.MarshalJSON()
		if err != nil {
			t.Fatalf("MarshalJSON(%v) error = %v", k, err)
		}
		var got Kind
		if err := got.UnmarshalJSON(data); err != nil {
			t.Fatalf("UnmarshalJSON(%s) error = %v", data, err)
		}
		if got != k {
			t.Errorf("round trip of %v = %v", k, got)
		}
	}
}
