// Package rules computes the effective watch policy derived from a flat set
// of folder rules. Rules form an implicit tree by path-prefix containment;
// a rule on a child path overrides the action inherited from an ancestor.
package rules

import (
	"path/filepath"
	"sort"
	"strings"

	"photokeep/internal/models"
)

// Normalize cleans a rule or candidate path so prefix comparisons are stable.
func Normalize(path string) string {
	return strings.TrimRight(filepath.Clean(path), string(filepath.Separator))
}

// isPrefix reports whether path sits under root. Comparison is a plain
// case-insensitive string prefix; sibling paths sharing a string prefix
// (such as c:\images and c:\images2) group together. See DESIGN.md.
func isPrefix(root, path string) bool {
	return strings.HasPrefix(strings.ToLower(path), strings.ToLower(root))
}

// TopLevelGroups buckets rules under their top-level roots. Rules are sorted
// case-insensitively by path; a rule starts a new group iff its path is not a
// prefix of the current group's root. The root rule itself is the map key and
// is not included in its own list.
func TopLevelGroups(in []models.FolderRule) map[string][]models.FolderRule {
	sorted := make([]models.FolderRule, len(in))
	copy(sorted, in)
	for i := range sorted {
		sorted[i].Path = Normalize(sorted[i].Path)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return strings.ToLower(sorted[i].Path) < strings.ToLower(sorted[j].Path)
	})

	groups := make(map[string][]models.FolderRule)
	var root string
	for _, rule := range sorted {
		if root == "" || !isPrefix(root, rule.Path) {
			root = rule.Path
			groups[root] = nil
			continue
		}
		groups[root] = append(groups[root], rule)
	}
	return groups
}

// EffectiveAction resolves the nearest-ancestor-or-self rule for path.
// The second return is false when no rule covers the path at all.
func EffectiveAction(in []models.FolderRule, path string) (models.RuleAction, bool) {
	path = Normalize(path)
	best := -1
	for i := range in {
		root := Normalize(in[i].Path)
		if !isPrefix(root, path) {
			continue
		}
		if best < 0 || len(root) > len(Normalize(in[best].Path)) {
			best = i
		}
	}
	if best < 0 {
		return "", false
	}
	return in[best].Action, true
}

// ScanRoots returns the minimal set of paths an initial scan must walk:
// every Always or Once rule not already covered by an Always/Once ancestor.
func ScanRoots(in []models.FolderRule) []string {
	return rootsWith(in, func(a models.RuleAction) bool {
		return a == models.RuleAlways || a == models.RuleOnce
	})
}

// WatchRoots returns the roots kept under continuous filesystem watch:
// Always rules not already covered by an Always ancestor.
func WatchRoots(in []models.FolderRule) []string {
	return rootsWith(in, func(a models.RuleAction) bool {
		return a == models.RuleAlways
	})
}

func rootsWith(in []models.FolderRule, match func(models.RuleAction) bool) []string {
	var roots []string
	for i := range in {
		if !match(in[i].Action) {
			continue
		}
		path := Normalize(in[i].Path)
		covered := false
		for j := range in {
			if i == j || !match(in[j].Action) {
				continue
			}
			ancestor := Normalize(in[j].Path)
			if len(ancestor) < len(path) && isPrefix(ancestor, path) {
				covered = true
				break
			}
		}
		if !covered {
			roots = append(roots, path)
		}
	}
	sort.Strings(roots)
	return roots
}
