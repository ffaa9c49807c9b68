package main

import (
	"strings"
	"time"
)

// trackerSpec is what the rest of the wiring needs beyond what a
// target_site config entry carries directly: the source flag a hash
// search must stamp into local metainfo, and the minimum wall-clock
// spacing between outbound requests.
//
// Grounded on gazellemusic.KnownTrackers/TrackerToSite: a table keyed
// by announce-tracker substring mapping to a known Gazelle site's
// source flag and rate limit. config.TargetSite only carries the
// substring a user types in (tracker), so this table fills in the
// flag/limit a real deployment would otherwise need to hardcode per
// site.
type trackerSpec struct {
	sourceFlag string
	interval   time.Duration
}

var knownTrackers = map[string]trackerSpec{
	"flacsfor.me":    {sourceFlag: "RED", interval: time.Second},
	"home.opsfet.ch": {sourceFlag: "OPS", interval: 2 * time.Second},
}

// resolveTrackerSpec looks up the known spec for a configured
// tracker substring, falling back to an unflagged, conservatively
// rate-limited default for a site this table doesn't recognize (a
// private tracker nemorosa has never been pointed at before still
// works, just without the source-flag family matching spec §4.6a
// gets from a known Gazelle site).
func resolveTrackerSpec(tracker string) trackerSpec {
	for substr, spec := range knownTrackers {
		if strings.Contains(tracker, substr) || strings.Contains(substr, tracker) {
			return spec
		}
	}
	return trackerSpec{sourceFlag: "", interval: time.Second}
}
