package main

import (
	"fmt"

	"github.com/gabrieldemian/nemorosa/internal/config"
	"github.com/gabrieldemian/nemorosa/internal/engine"
	"github.com/gabrieldemian/nemorosa/internal/trackersite"
)

// buildSites constructs one trackersite.Client per configured
// target_site. The source flag comes from the user's explicit override
// or, failing that, the known-tracker table; the rate limit always
// comes from the table; the announce URL comes from the override or,
// failing that, "https://<tracker>/announce" (spec §6 target_site;
// §4.3 per-site rate gate).
func buildSites(sites []config.TargetSite) ([]engine.Site, error) {
	out := make([]engine.Site, 0, len(sites))
	for _, s := range sites {
		spec := resolveTrackerSpec(s.Tracker)

		sourceFlag := s.SourceFlag
		if sourceFlag == "" {
			sourceFlag = spec.sourceFlag
		}
		announceURL := s.AnnounceURL
		if announceURL == "" {
			announceURL = fmt.Sprintf("https://%s/announce", s.Tracker)
		}

		client, err := trackersite.New(trackersite.Config{
			Server:       s.Server,
			TrackerQuery: s.Tracker,
			APIKey:       s.APIKey,
			Cookie:       s.Cookie,
			SourceFlag:   sourceFlag,
			Interval:     spec.interval,
			AnnounceURL:  announceURL,
		})
		if err != nil {
			return nil, fmt.Errorf("build site %s: %w", s.Server, err)
		}
		out = append(out, client)
	}
	return out, nil
}
