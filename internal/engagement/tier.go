// Package engagement counts a user's monthly activity and maps it to a badge tier.
package engagement

import "time"

// Tier is a badge level.
type Tier string

// Badge tiers, lowest first.
const (
	TierNone     Tier = "none"
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

type threshold struct {
	minimum int
	tier    Tier
}

// Highest first; the first threshold met wins.
var tierLadder = []threshold{
	{minimum: 10, tier: TierPlatinum},
	{minimum: 7, tier: TierGold},
	{minimum: 5, tier: TierSilver},
	{minimum: 3, tier: TierBronze},
}

// TierFor maps an engagement count to its tier. Counts below the lowest threshold,
// negatives included, have no badge.
func TierFor(engagements int) Tier {
	for _, step := range tierLadder {
		if engagements >= step.minimum {
			return step.tier
		}
	}
	return TierNone
}

// MonthStart returns midnight on the first day of now's month in now's location.
func MonthStart(now time.Time) time.Time {
	year, month, _ := now.Date()
	return time.Date(year, month, 1, 0, 0, 0, 0, now.Location())
}
