// Package matcher implements the Position Matcher: a weighted scoring
// function that re-derives donor<->client position pairings when explicit
// linkage from the Correspondence Map is missing or stale (spec §4.10).
// Grounded on original_source/position_matcher.py's scoring table, carried
// over unchanged.
package matcher

import "fx-copier/pkg/types"

// acceptThreshold is the minimum score a candidate pairing needs to be
// accepted at all (spec §4.10).
const acceptThreshold = 20.0

// Candidate is one scored donor/client pairing accepted by Match.
type Candidate struct {
	DonorKey    types.DonorKey
	ClientPos   types.ClientPosition
	Score       float64
	SavedLinked bool // true if this pairing matches a persisted pos_link entry
}

// Input bundles everything Score needs for one donor/client pair.
type Input struct {
	Donor           types.DonorPosition
	Client          types.ClientPosition
	Point           float64 // symbol point size, for price-proximity tolerance
	CopyDonorMagic  bool // order_config.copy_donor_magic: when true and the donor has a magic tag, the client must carry that exact tag to be a candidate at all
	SavedPairing    bool // true if (Donor.Key(), Client.Ticket) was the persisted link
}

// Score computes the weighted score of a candidate donor/client pairing, or
// (0, false) if a hard-reject rule applies (spec §4.10's scoring table).
func Score(in Input) (float64, bool) {
	if in.Donor.Symbol != in.Client.Symbol || in.Donor.Direction != in.Client.Direction {
		return 0, false
	}
	score := 20.0 // symbol + direction baseline

	magicScore, ok := scoreMagic(in.Donor.MagicTag, in.Client.MagicTag, in.CopyDonorMagic)
	if !ok {
		return 0, false
	}
	score += magicScore

	score += scoreOpenTime(in.Donor.TimeOpened, in.Client.TimeOpened)
	score += scorePriceProximity(in.Donor.PriceOpen, in.Client.PriceOpen, in.Point)

	if in.SavedPairing {
		score += 10
	}

	if score < 0 {
		return 0, false
	}
	return score, true
}

// scoreMagic implements the magic-tag rule: hard reject on a mismatch when
// copy_donor_magic is enabled and the donor has a magic tag; otherwise a
// soft +15 for an equal non-null pair (spec §4.10 allows up to +30 total
// when combined with other signals, but the magic signal itself contributes
// at most +15 here; the remaining headroom is realized by proximity bands).
func scoreMagic(donorMagic *int64, clientMagic int64, copyDonorMagic bool) (float64, bool) {
	if copyDonorMagic && donorMagic != nil {
		if *donorMagic != clientMagic {
			return 0, false
		}
		return 15, true
	}
	if donorMagic != nil && *donorMagic == clientMagic {
		return 15, true
	}
	return 0, true
}

func scoreOpenTime(donorTime, clientTime int64) float64 {
	delta := donorTime - clientTime
	if delta < 0 {
		delta = -delta
	}
	d := float64(delta)
	switch {
	case d <= 60:
		return linearDecay(d, 0, 60, 20)
	case d <= 300:
		return linearDecay(d, 60, 300, 15)
	case d <= 3600:
		return linearDecay(d, 300, 3600, 10)
	case d <= 86400:
		return linearDecay(d, 3600, 86400, 5)
	default:
		return 0
	}
}

// linearDecay returns a value that falls linearly from max (at lo) to 0 (at
// hi) as x moves from lo to hi.
func linearDecay(x, lo, hi, max float64) float64 {
	if hi <= lo {
		return 0
	}
	frac := (x - lo) / (hi - lo)
	return max * (1 - frac)
}

func scorePriceProximity(donorPrice, clientPrice, point float64) float64 {
	tolerance := 100 * point
	if tolerance < 0.01 {
		tolerance = 0.01
	}
	diff := donorPrice - clientPrice
	if diff < 0 {
		diff = -diff
	}
	if diff <= tolerance {
		return 10 * (1 - diff/tolerance)
	}
	// outside tolerance: penalty scales with how far past tolerance the
	// diff sits, capped at -10.
	over := (diff - tolerance) / tolerance
	penalty := -10 * over
	if penalty < -10 {
		penalty = -10
	}
	return penalty
}

// Match greedily pairs donor and client positions by descending score,
// consuming each side at most once, and returns accepted pairings plus the
// leftover unmatched donors and clients (spec §4.10 "greedily consume").
func Match(donors []types.DonorPosition, clients []types.ClientPosition, point float64, copyDonorMagic bool, savedPairs map[types.DonorKey]int64) (matched []Candidate, unmatchedDonors []types.DonorPosition, unmatchedClients []types.ClientPosition) {
	var candidates []Candidate
	for _, d := range donors {
		for _, c := range clients {
			saved := savedPairs != nil && savedPairs[d.Key()] == c.Ticket
			score, ok := Score(Input{Donor: d, Client: c, Point: point, CopyDonorMagic: copyDonorMagic, SavedPairing: saved})
			if !ok || score < acceptThreshold {
				continue
			}
			candidates = append(candidates, Candidate{DonorKey: d.Key(), ClientPos: c, Score: score, SavedLinked: saved})
		}
	}

	// stable descending sort by score (simple insertion sort: candidate
	// counts per cycle are small, typically well under a few hundred).
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].Score > candidates[j-1].Score; j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}

	usedDonor := make(map[types.DonorKey]bool)
	usedClient := make(map[int64]bool)
	for _, cand := range candidates {
		if usedDonor[cand.DonorKey] || usedClient[cand.ClientPos.Ticket] {
			continue
		}
		usedDonor[cand.DonorKey] = true
		usedClient[cand.ClientPos.Ticket] = true
		matched = append(matched, cand)
	}

	for _, d := range donors {
		if !usedDonor[d.Key()] {
			unmatchedDonors = append(unmatchedDonors, d)
		}
	}
	for _, c := range clients {
		if !usedClient[c.Ticket] {
			unmatchedClients = append(unmatchedClients, c)
		}
	}
	return matched, unmatchedDonors, unmatchedClients
}
