package scaler

import (
	"github.com/cloudve/clusterman/pkg/cluster"
)

// MatchKind classifies how zone resolution arrived at a policy.
type MatchKind string

const (
	// MatchExactZone means a policy named the signal's zone.
	MatchExactZone MatchKind = "exact_zone"
	// MatchDefaultZone means the cluster's unzoned policy caught the
	// signal because no policy named the zone.
	MatchDefaultZone MatchKind = "default_zone"
	// MatchNone means no policy applies.
	MatchNone MatchKind = "none"
)

// Match is the outcome of zone resolution.
type Match struct {
	Kind   MatchKind
	Policy *cluster.AutoscalerPolicy
}

// ResolvePolicy picks the policy responsible for a signal's zone:
// an exact zone match wins, otherwise the cluster's default (unzoned)
// policy, otherwise no match. Policies arrive oldest first from the
// snapshot, so when legacy data holds duplicates for one zone the
// first-created policy wins.
func ResolvePolicy(snap *cluster.Snapshot, zone string) Match {
	if zone != "" {
		for i := range snap.Policies {
			if snap.Policies[i].Zone == zone {
				return Match{Kind: MatchExactZone, Policy: &snap.Policies[i]}
			}
		}
	}
	for i := range snap.Policies {
		if snap.Policies[i].Zone == "" {
			kind := MatchDefaultZone
			if zone == "" {
				// An unzoned signal hitting the unzoned policy is an
				// exact match, not a fallback.
				kind = MatchExactZone
			}
			return Match{Kind: kind, Policy: &snap.Policies[i]}
		}
	}
	return Match{Kind: MatchNone}
}
