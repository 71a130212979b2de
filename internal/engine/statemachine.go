package engine

import (
	"time"

	"github.com/lienmarket/marketplace-server/pkg/errors"
	"github.com/lienmarket/marketplace-server/pkg/types"
)

// transitions is the closed set of legal auction status changes. The
// machine is the single gate consulted before mutating bids or
// certificates tied to an auction.
var transitions = map[types.AuctionStatus][]types.AuctionStatus{
	types.AuctionScheduled: {types.AuctionOpen, types.AuctionCancelled},
	types.AuctionOpen:      {types.AuctionClosed, types.AuctionCancelled},
	types.AuctionClosed:    {types.AuctionSettled},
	types.AuctionSettled:   {},
	types.AuctionCancelled: {},
}

// CanTransition reports whether from -> to is a legal auction transition.
func CanTransition(from, to types.AuctionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates and applies a status change to the auction.
// Illegal transitions fail loudly rather than silently no-op.
func Transition(auction *types.Auction, to types.AuctionStatus) error {
	if !types.ValidAuctionStatus(to) {
		return errors.Newf(errors.ErrInvalidStateTransition, "unknown auction status %q", to)
	}
	if !CanTransition(auction.Status, to) {
		return errors.Newf(errors.ErrInvalidStateTransition,
			"illegal auction transition %s -> %s", auction.Status, to)
	}
	auction.Status = to
	return nil
}

// CanOpenAt reports whether a scheduled auction may open at the given
// time. Operators can force an early open; the scheduler cannot.
func CanOpenAt(auction types.Auction, now time.Time, force bool) bool {
	if auction.Status != types.AuctionScheduled {
		return false
	}
	return force || !now.Before(auction.AuctionDate)
}
