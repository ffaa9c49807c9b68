// Package reconcile implements the file-list reconciliation that turns
// two ordered (relative-path, size) lists into a rename map the client
// adapter can apply (spec §4.5).
package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/gabrieldemian/nemorosa/internal/domain"
)

// Conflict is raised when a name appears in both file sets with
// different sizes — the injection candidate must be rejected, never
// partially applied (spec testable property 3).
type Conflict struct {
	Name       string
	LocalSize  int64
	RemoteSize int64
}

func (e *Conflict) Error() string {
	return fmt.Sprintf("file conflict on %q: local size %d != remote size %d", e.Name, e.LocalSize, e.RemoteSize)
}

// GenerateRenameMap reconciles local and remote file lists into an
// ordered RenameMap. local and remote are each relative-path/size
// entries in the order the client or tracker site reported them — spec
// §4.5 step 3 processes remaining remote files in that insertion
// order, and the local size buckets it draws candidates from preserve
// the same insertion order on the local side.
func GenerateRenameMap(local, remote []domain.FileEntry) ([]domain.RenameEntry, error) {
	localSize := make(map[string]int64, len(local))
	for _, f := range local {
		localSize[f.Path] = f.Size
	}
	remoteSize := make(map[string]int64, len(remote))
	for _, f := range remote {
		remoteSize[f.Path] = f.Size
	}

	// Step 1: conflict check across the full, unmodified sets.
	for _, f := range local {
		if rs, ok := remoteSize[f.Path]; ok && rs != f.Size {
			return nil, &Conflict{Name: f.Path, LocalSize: f.Size, RemoteSize: rs}
		}
	}

	// Step 2: same-name pass — names present (with matching size) in
	// both sets need no rename and are removed from further
	// consideration, in each side's own insertion order.
	stillLocal := make(map[string]bool, len(local))
	for _, f := range local {
		stillLocal[f.Path] = true
	}
	var remainingRemote []string
	for _, f := range remote {
		if stillLocal[f.Path] {
			delete(stillLocal, f.Path)
			continue
		}
		remainingRemote = append(remainingRemote, f.Path)
	}

	// Step 3: size-bucket matching over what's left, local buckets
	// built in local insertion order.
	buckets := make(map[int64][]string)
	for _, f := range local {
		if stillLocal[f.Path] {
			buckets[f.Size] = append(buckets[f.Size], f.Path)
		}
	}

	type pair struct {
		remotePath string
		localPath  string
	}
	var pairs []pair

	for _, remotePath := range remainingRemote {
		size := remoteSize[remotePath]
		candidates := buckets[size]
		if len(candidates) == 0 {
			continue // unmatched remote file: no entry emitted (spec §4.5 step 3)
		}

		var chosen string
		if len(candidates) == 1 {
			chosen = candidates[0]
		} else {
			chosen = bestSimilarityMatch(remotePath, candidates)
		}

		pairs = append(pairs, pair{remotePath: remotePath, localPath: chosen})
		buckets[size] = removeString(candidates, chosen)
	}

	// Step 4: prefix-level compression.
	var entries []domain.RenameEntry
	for _, p := range pairs {
		remoteComponents := strings.Split(p.remotePath, "/")
		localComponents := strings.Split(p.localPath, "/")
		if len(remoteComponents) != len(localComponents) {
			// Different depth: emit the full-path correspondence at
			// the deepest shared priority so the adapter still has
			// something to rename.
			entries = append(entries, domain.RenameEntry{
				RemotePath: p.remotePath,
				LocalLeaf:  localComponents[len(localComponents)-1],
				Priority:   len(remoteComponents) - 1,
			})
			continue
		}
		for i := 0; i < len(remoteComponents); i++ {
			if remoteComponents[i] != localComponents[i] {
				entries = append(entries, domain.RenameEntry{
					RemotePath: strings.Join(remoteComponents[:i+1], "/"),
					LocalLeaf:  localComponents[i],
					Priority:   i,
				})
			}
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Priority > entries[j].Priority // deeper renames first
	})

	return entries, nil
}

func removeString(s []string, target string) []string {
	out := make([]string, 0, len(s))
	for _, v := range s {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}

// bestSimilarityMatch picks the candidate with the highest
// Ratcliff/Obershelp similarity ratio against remotePath, breaking ties
// by first-seen order (the caller builds candidates in local insertion
// order).
func bestSimilarityMatch(remotePath string, candidates []string) string {
	best := candidates[0]
	bestRatio := -1.0
	for _, candidate := range candidates {
		ratio := difflib.NewMatcher(splitChars(remotePath), splitChars(candidate)).Ratio()
		if ratio > bestRatio {
			bestRatio = ratio
			best = candidate
		}
	}
	return best
}

func splitChars(s string) []string {
	runes := []rune(s)
	out := make([]string, len(runes))
	for i, r := range runes {
		out[i] = string(r)
	}
	return out
}
