// Package diff compares two file-hash snapshots of a repository and reports
// which files changed, which were deleted, and which are unchanged.
package diff

import "sort"

// ChangeSet is the result of comparing an old file-hash mapping against a
// new one. The three slices are sorted, pairwise disjoint, and together
// cover every path present in either mapping.
type ChangeSet struct {
	// Changed holds paths present only in the new mapping, or present in
	// both with differing hashes.
	Changed []string

	// Deleted holds paths present only in the old mapping.
	Deleted []string

	// Unchanged holds paths present in both mappings with equal hashes.
	Unchanged []string
}

// Empty reports whether no files changed or were deleted.
func (c ChangeSet) Empty() bool {
	return len(c.Changed) == 0 && len(c.Deleted) == 0
}

// Compute diffs two path→hash mappings. A nil or empty old mapping marks
// every new path as changed (a first-time index, not an error).
func Compute(oldHashes, newHashes map[string]string) ChangeSet {
	var cs ChangeSet

	for path, hash := range newHashes {
		oldHash, ok := oldHashes[path]
		if ok && oldHash == hash {
			cs.Unchanged = append(cs.Unchanged, path)
		} else {
			cs.Changed = append(cs.Changed, path)
		}
	}

	for path := range oldHashes {
		if _, ok := newHashes[path]; !ok {
			cs.Deleted = append(cs.Deleted, path)
		}
	}

	sort.Strings(cs.Changed)
	sort.Strings(cs.Deleted)
	sort.Strings(cs.Unchanged)
	return cs
}
