// Package resolve maps a user's package selection onto the manifest,
// producing the ordered download plan. It is pure: no I/O, no side effects.
package resolve

import (
	"fmt"

	"github.com/monika-after-story/installer/internal/manifest"
)

// Task is one planned download. The download manager owns the live task
// state; this is just the immutable plan entry.
type Task struct {
	PackageID string
	Name      string
	Kind      manifest.Kind
	URLs      []string
	Size      int64
	SHA256    string
	Mandatory bool
}

// UnknownPackageError is returned when a selected id does not exist in the
// manifest. Not retryable: re-resolving the same selection cannot succeed.
type UnknownPackageError struct {
	ID string
}

func (e *UnknownPackageError) Error() string {
	return fmt.Sprintf("unknown package %q", e.ID)
}

// Resolve turns a selection of package ids into an ordered list of download
// tasks. Base/deluxe content and its shared dependencies come before
// spritepacks, so core content failures surface before bandwidth is spent on
// add-ons. When both the default and deluxe editions are selected, deluxe
// replaces default. Shared dependencies required by several packages are
// planned once.
func Resolve(m *manifest.Manifest, selection []string) ([]Task, error) {
	if m == nil {
		return nil, fmt.Errorf("nil manifest")
	}

	var picked []manifest.Package
	deluxeSelected := false
	for _, id := range selection {
		pkg, ok := m.Package(id)
		if !ok {
			return nil, &UnknownPackageError{ID: id}
		}
		if pkg.Kind == manifest.KindDeluxe {
			deluxeSelected = true
		}
		picked = append(picked, pkg)
	}

	// The deluxe edition is a full replacement for the default one, never
	// installed alongside it.
	if deluxeSelected {
		kept := picked[:0]
		for _, pkg := range picked {
			if pkg.Kind == manifest.KindBase {
				continue
			}
			kept = append(kept, pkg)
		}
		picked = kept
	}

	var mandatory, optional []manifest.Package
	for _, pkg := range picked {
		switch pkg.Kind {
		case manifest.KindBase, manifest.KindDeluxe, manifest.KindShared:
			mandatory = append(mandatory, pkg)
		case manifest.KindSpritepack:
			optional = append(optional, pkg)
		default:
			return nil, fmt.Errorf("package %q has unhandled kind %v", pkg.ID, pkg.Kind)
		}
	}

	var tasks []Task
	planned := make(map[string]struct{})

	plan := func(pkg manifest.Package, mandatoryGroup bool) {
		if _, done := planned[pkg.ID]; done {
			return
		}
		planned[pkg.ID] = struct{}{}
		tasks = append(tasks, Task{
			PackageID: pkg.ID,
			Name:      pkg.Name,
			Kind:      pkg.Kind,
			URLs:      pkg.URLs,
			Size:      pkg.Size,
			SHA256:    pkg.SHA256,
			Mandatory: mandatoryGroup && pkg.Mandatory(),
		})
	}

	// Shared dependencies are planned just before the first package that
	// needs them, inheriting that package's mandatory/optional group.
	planWithDeps := func(pkg manifest.Package, mandatoryGroup bool) {
		for _, req := range pkg.Requires {
			dep, ok := m.Package(req)
			if !ok {
				continue // validated at parse time
			}
			plan(dep, mandatoryGroup)
		}
		plan(pkg, mandatoryGroup)
	}

	for _, pkg := range mandatory {
		planWithDeps(pkg, true)
	}
	for _, pkg := range optional {
		planWithDeps(pkg, false)
	}

	return tasks, nil
}
