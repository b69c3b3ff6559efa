package marketplace

import (
	"time"

	"marketsync/internal/models"
)

// Session carries one brand's identity and freshly refreshed credentials
// through a single job run. It is constructed at the start of every run and
// never shared across brands or concurrent jobs.
type Session struct {
	Brand models.Brand
	Creds models.CredentialPair
}

// TimeWindow is the inclusive fetch window for one run, usually yesterday.
type TimeWindow struct {
	From time.Time
	To   time.Time
}

// Yesterday returns the previous calendar day in UTC.
func Yesterday(now time.Time) TimeWindow {
	end := now.UTC().Truncate(24 * time.Hour)
	return TimeWindow{From: end.Add(-24 * time.Hour), To: end}
}

// AdsKind selects one of the ads platform's spend report families.
type AdsKind string

const (
	AdsBasic         AdsKind = "basic"
	AdsProductGMVMax AdsKind = "product-gmv-max"
	AdsLiveGMVMax    AdsKind = "live-gmv-max"
)
