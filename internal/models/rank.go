package models

import (
	"encoding/json"
	"fmt"
)

// Tier is one of nine ordered skill bands.
type Tier int

const (
	TierIron Tier = iota
	TierBronze
	TierSilver
	TierGold
	TierPlatinum
	TierEmerald
	TierDiamond
	TierMaster
	TierChampion
)

// TierCount is the number of tiers.
const TierCount = 9

var tierNames = [TierCount]string{
	"iron", "bronze", "silver", "gold", "platinum",
	"emerald", "diamond", "master", "champion",
}

func (t Tier) String() string {
	if t < 0 || int(t) >= TierCount {
		return fmt.Sprintf("tier(%d)", int(t))
	}
	return tierNames[t]
}

// ParseTier maps a tier name back to its value.
func ParseTier(s string) (Tier, error) {
	for i, n := range tierNames {
		if n == s {
			return Tier(i), nil
		}
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}

func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Tier) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseTier(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// PromotionSeries tracks the qualification gate toward the next tier.
type PromotionSeries struct {
	Open       bool `json:"open"`
	Target     Tier `json:"target"`
	Wins       int  `json:"wins"`
	WinsNeeded int  `json:"wins_needed"`
	Baseline   int  `json:"baseline"`
}

// RankState is the long-lived ranking state owned by the user profile.
type RankState struct {
	Points int             `json:"points"`
	Tier   Tier            `json:"tier"`
	Series PromotionSeries `json:"series"`
}

// LPOutcome is the end-of-session ranking result.
type LPOutcome struct {
	Computed bool            `json:"computed"`
	Reason   string          `json:"reason,omitempty"`
	Delta    int             `json:"delta"`
	Total    int             `json:"total"`
	Tier     Tier            `json:"tier"`
	RawTier  Tier            `json:"raw_tier"`
	Series   PromotionSeries `json:"series"`
	Promoted bool            `json:"promoted"`
}
