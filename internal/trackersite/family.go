package trackersite

// sourceFamily maps a site's primary source flag to the extra flags
// that family is also known to have used historically. The match
// engine's hash-search strategy (spec §4.6a) tries the site's own flag
// plus these before giving up.
var sourceFamily = map[string][]string{
	"RED": {"PTH"},
	"OPS": {"APL"},
}

// SourceFlagCandidates returns the ordered set of source flags to try
// for a hash search against a site advertising primaryFlag: the flag
// itself, the bare "" (no source), then the rest of its family.
func SourceFlagCandidates(primaryFlag string) []string {
	candidates := []string{primaryFlag, ""}
	candidates = append(candidates, sourceFamily[primaryFlag]...)
	return candidates
}
