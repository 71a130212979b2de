package engine

import (
	"sort"

	"github.com/lienmarket/marketplace-server/pkg/types"
)

type WinnerStatus string

const (
	WinnerFound WinnerStatus = "WinnerFound"
	NoBids      WinnerStatus = "NoBids"
)

// ResolveWinner computes the winning bid for one certificate. It is a
// pure, deterministic function over its inputs: no clock, no randomness,
// no store access, so two runs over the same bids always agree.
//
// Each user's most recent bid is their standing offer; earlier bids from
// the same user stay in the audit trail but are excluded from ranking.
// Ranking is ascending by amount in InterestRate mode (lowest rate wins)
// and descending in Premium mode. Ties break on earlier bid time, then on
// the lexicographically smallest bid id.
func ResolveWinner(cert types.Certificate, bids []types.Bid) (*types.Bid, WinnerStatus) {
	standing := reducePerUser(bids)
	if len(standing) == 0 {
		return nil, NoBids
	}

	// All bids on a certificate share the auction's bidding mode; the
	// validator enforced that on the way in.
	ascending := standing[0].BidType == types.BidInterestRate

	sort.Slice(standing, func(i, j int) bool {
		a, b := standing[i], standing[j]
		if !a.BidAmount.Equal(b.BidAmount) {
			if ascending {
				return a.BidAmount.LessThan(b.BidAmount)
			}
			return a.BidAmount.GreaterThan(b.BidAmount)
		}
		if !a.BidTime.Equal(b.BidTime) {
			return a.BidTime.Before(b.BidTime)
		}
		return a.ID < b.ID
	})

	winner := standing[0]
	return &winner, WinnerFound
}

// reducePerUser keeps each user's most recent bid. When a user somehow
// carries two bids with the same timestamp, the larger id wins so the
// reduction stays deterministic.
func reducePerUser(bids []types.Bid) []types.Bid {
	latest := make(map[string]types.Bid, len(bids))
	order := make([]string, 0, len(bids))
	for _, b := range bids {
		current, seen := latest[b.UserID]
		if !seen {
			order = append(order, b.UserID)
			latest[b.UserID] = b
			continue
		}
		if b.BidTime.After(current.BidTime) ||
			(b.BidTime.Equal(current.BidTime) && b.ID > current.ID) {
			latest[b.UserID] = b
		}
	}

	standing := make([]types.Bid, 0, len(order))
	for _, userID := range order {
		standing = append(standing, latest[userID])
	}
	return standing
}
