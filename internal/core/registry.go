package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Registry is a catalogue of extraction formats keyed by (code, version).
// It is populated at startup and read-only afterwards.
type Registry struct {
	mu      sync.RWMutex
	formats map[string]map[string]FormatSpec // code -> version -> spec
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{formats: make(map[string]map[string]FormatSpec)}
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry populated by the
// formats package.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register adds a format to the default registry.
// Panics if the format is malformed or already registered.
func Register(spec FormatSpec) {
	defaultRegistry.Register(spec)
}

// Register adds a format to the registry.
// Panics if the format is malformed or already registered.
func (r *Registry) Register(spec FormatSpec) {
	spec.Code = strings.ToUpper(strings.TrimSpace(spec.Code))
	if err := checkFormat(spec); err != nil {
		panic(fmt.Sprintf("invalid format %s %s: %v", spec.Code, spec.Version, err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	versions, ok := r.formats[spec.Code]
	if !ok {
		versions = make(map[string]FormatSpec)
		r.formats[spec.Code] = versions
	}
	if _, exists := versions[spec.Version]; exists {
		panic(fmt.Sprintf("format already registered: %s %s", spec.Code, spec.Version))
	}

	if spec.Label == "" {
		spec.Label = spec.Code
	}
	if spec.Family == "" {
		spec.Family = FamilyLive
	}
	versions[spec.Version] = spec
}

// checkFormat enforces the structural invariants of a format: unique sheet
// names and dependencies on earlier sheets only.
func checkFormat(spec FormatSpec) error {
	if spec.Code == "" {
		return fmt.Errorf("empty code")
	}
	if spec.Version == "" {
		return fmt.Errorf("empty version")
	}
	if len(spec.Sheets) == 0 {
		return fmt.Errorf("no sheets")
	}

	seen := make(map[string]bool, len(spec.Sheets))
	for _, sheet := range spec.Sheets {
		if sheet.Name == "" {
			return fmt.Errorf("sheet with empty name")
		}
		if seen[sheet.Name] {
			return fmt.Errorf("duplicate sheet %s", sheet.Name)
		}
		if len(sheet.Columns) == 0 {
			return fmt.Errorf("sheet %s has no columns", sheet.Name)
		}
		for _, dep := range sheet.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("sheet %s depends on %s which is not declared before it", sheet.Name, dep)
			}
		}
		if spec.Family != FamilyProduct && sheet.Build == nil {
			return fmt.Errorf("live sheet %s has no builder", sheet.Name)
		}
		seen[sheet.Name] = true
	}
	return nil
}

// Resolve returns the format for code and version. An empty version
// resolves to the latest registered version of the format.
func (r *Registry) Resolve(code, version string) (FormatSpec, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	version = strings.TrimSpace(version)

	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.formats[code]
	if !ok || len(versions) == 0 {
		return FormatSpec{}, &UnknownFormatError{Code: code, Version: version}
	}

	if version == "" {
		version = latestVersion(versions)
	}

	spec, ok := versions[version]
	if !ok {
		return FormatSpec{}, &UnknownFormatError{Code: code, Version: version}
	}
	return spec, nil
}

// SheetsFor returns the ordered sheet names of a format.
func (r *Registry) SheetsFor(code, version string) ([]string, error) {
	spec, err := r.Resolve(code, version)
	if err != nil {
		return nil, err
	}
	return spec.SheetNames(), nil
}

// Versions returns the registered versions of a format, oldest first.
func (r *Registry) Versions(code string) []string {
	code = strings.ToUpper(strings.TrimSpace(code))

	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := make([]string, 0, len(r.formats[code]))
	for v := range r.formats[code] {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool {
		return compareVersions(versions[i], versions[j]) < 0
	})
	return versions
}

// All returns every registered format.
// Sorted by code then by version for consistent ordering.
func (r *Registry) All() []FormatSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []FormatSpec
	for _, versions := range r.formats {
		for _, spec := range versions {
			result = append(result, spec)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Code != result[j].Code {
			return result[i].Code < result[j].Code
		}
		return compareVersions(result[i].Version, result[j].Version) < 0
	})
	return result
}

// Codes returns all registered format codes, sorted alphabetically.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	codes := make([]string, 0, len(r.formats))
	for code := range r.formats {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// FormatCount returns the number of registered (code, version) pairs.
func (r *Registry) FormatCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, versions := range r.formats {
		n += len(versions)
	}
	return n
}

func latestVersion(versions map[string]FormatSpec) string {
	latest := ""
	for v := range versions {
		if latest == "" || compareVersions(v, latest) > 0 {
			latest = v
		}
	}
	return latest
}

// compareVersions compares dotted versions numerically where possible:
// "1.10" > "1.3". Non-numeric parts compare lexically.
func compareVersions(a, b string) int {
	pa := strings.Split(a, ".")
	pb := strings.Split(b, ".")

	for i := 0; i < len(pa) || i < len(pb); i++ {
		var sa, sb string
		if i < len(pa) {
			sa = pa[i]
		}
		if i < len(pb) {
			sb = pb[i]
		}

		na, errA := strconv.Atoi(sa)
		nb, errB := strconv.Atoi(sb)
		if errA == nil && errB == nil {
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
			continue
		}
		if sa != sb {
			if sa < sb {
				return -1
			}
			return 1
		}
	}
	return 0
}
