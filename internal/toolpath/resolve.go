package toolpath

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrToolNotFound is returned when every search tier is exhausted.
var ErrToolNotFound = errors.New("tool not found")

// Prober is the filesystem capability the resolver depends on.
type Prober interface {
	// IsExecutable reports whether path is a regular file with an execute bit.
	IsExecutable(path string) bool
	// LookPath searches the executable search path for name.
	LookPath(name string) (string, error)
	// Find walks root at most maxDepth levels deep and returns the first path
	// for which match returns true.
	Find(root string, maxDepth int, match func(path string) bool) (string, bool)
}

// Spec declares how a single tool is searched for.
type Spec struct {
	Tool string
	// Names lists accepted executable file names, preferred first.
	Names        []string
	OverridePath string
	OverrideDir  string
	// Locations are absolute candidate paths checked in order.
	Locations   []string
	SearchRoot  string
	SearchDepth int
}

// Tier is one step of the search. Tiers are tried in order; the first hit wins.
type Tier struct {
	Name string
	Find func(p Prober) (string, bool)
}

// Resolution records where a tool was found.
type Resolution struct {
	Path string
	Tier string
}

const (
	TierOverridePath = "override-path"
	TierOverrideDir  = "override-dir"
	TierSearchPath   = "search-path"
	TierLocation     = "known-location"
	TierWalk         = "filesystem-walk"
)

// Tiers returns the ordered search tiers for s. Tiers whose input is
// empty are omitted.
func (s Spec) Tiers() []Tier {
	var tiers []Tier

	if s.OverridePath != "" {
		path := s.OverridePath
		tiers = append(tiers, Tier{Name: TierOverridePath, Find: func(p Prober) (string, bool) {
			return path, p.IsExecutable(path)
		}})
	}

	if s.OverrideDir != "" {
		dir := s.OverrideDir
		names := s.Names
		tiers = append(tiers, Tier{Name: TierOverrideDir, Find: func(p Prober) (string, bool) {
			for _, name := range names {
				candidate := filepath.Join(dir, name)
				if p.IsExecutable(candidate) {
					return candidate, true
				}
			}
			return "", false
		}})
	}

	if len(s.Names) > 0 {
		names := s.Names
		tiers = append(tiers, Tier{Name: TierSearchPath, Find: func(p Prober) (string, bool) {
			for _, name := range names {
				if found, err := p.LookPath(name); err == nil && found != "" {
					return found, true
				}
			}
			return "", false
		}})
	}

	if len(s.Locations) > 0 {
		locations := s.Locations
		tiers = append(tiers, Tier{Name: TierLocation, Find: func(p Prober) (string, bool) {
			for _, candidate := range locations {
				if p.IsExecutable(candidate) {
					return candidate, true
				}
			}
			return "", false
		}})
	}

	if s.SearchRoot != "" && s.SearchDepth > 0 && len(s.Names) > 0 {
		root, depth := s.SearchRoot, s.SearchDepth
		accepted := make(map[string]bool, len(s.Names))
		for _, name := range s.Names {
			accepted[name] = true
		}
		tiers = append(tiers, Tier{Name: TierWalk, Find: func(p Prober) (string, bool) {
			return p.Find(root, depth, func(path string) bool {
				return accepted[filepath.Base(path)] && p.IsExecutable(path)
			})
		}})
	}

	return tiers
}

// Resolve runs the tiers of spec against probe and returns the first match.
func Resolve(spec Spec, probe Prober) (Resolution, error) {
	for _, tier := range spec.Tiers() {
		if path, ok := tier.Find(probe); ok {
			return Resolution{Path: path, Tier: tier.Name}, nil
		}
	}
	return Resolution{}, fmt.Errorf("%s (tried %s): %w", spec.Tool, strings.Join(spec.Names, ", "), ErrToolNotFound)
}

// expand builds the candidate list dir/name for every name, preferred names first.
func expand(names []string, dirs []string) []string {
	locations := make([]string, 0, len(names)*len(dirs))
	for _, name := range names {
		for _, dir := range dirs {
			locations = append(locations, filepath.Join(dir, name))
		}
	}
	return locations
}
