package engine

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lienmarket/marketplace-server/internal/database"
	"github.com/lienmarket/marketplace-server/pkg/errors"
	"github.com/lienmarket/marketplace-server/pkg/types"
)

// Engine is the auction bidding and settlement engine. All state lives in
// the injected store; the engine itself holds no locks and no caches, so
// correctness under concurrent bidding rests on the store's serializable
// transactions.
type Engine struct {
	db        database.Service
	allowTies bool
	now       func() time.Time
}

func New(db database.Service, allowTies bool) *Engine {
	return &Engine{
		db:        db,
		allowTies: allowTies,
		now:       time.Now,
	}
}

type PlaceBidRequest struct {
	AuctionID     string
	CertificateID string
	UserID        string
	BidType       types.BiddingMode
	BidAmount     decimal.Decimal
}

// PlaceBid validates and persists one bid atomically. The auction and
// certificate rows are locked for the duration of the transaction, so two
// competing bids cannot both validate against the same stale best.
func (e *Engine) PlaceBid(ctx context.Context, req PlaceBidRequest) (types.Bid, error) {
	var placed types.Bid
	err := e.db.WithTx(ctx, func(tx database.Tx) error {
		auction, err := tx.GetAuctionForUpdate(ctx, req.AuctionID)
		if err != nil {
			return err
		}
		cert, err := tx.GetCertificateForUpdate(ctx, req.CertificateID)
		if err != nil {
			return err
		}
		bidder, err := tx.GetUser(ctx, req.UserID)
		if err != nil {
			return err
		}
		existing, err := tx.ListBidsForCertificate(ctx, req.CertificateID)
		if err != nil {
			return err
		}

		candidate := types.Bid{
			ID:            uuid.NewString(),
			AuctionID:     req.AuctionID,
			CertificateID: req.CertificateID,
			UserID:        req.UserID,
			BidType:       req.BidType,
			BidAmount:     req.BidAmount,
			BidTime:       e.now(),
		}

		if err := ValidateBid(candidate, auction, cert, existing, bidder, e.allowTies); err != nil {
			return err
		}

		placed, err = tx.InsertBid(ctx, candidate)
		return err
	})
	if err != nil {
		return types.Bid{}, err
	}

	log.Debugf("Bid %s accepted on certificate %s: %s %s",
		placed.ID, placed.CertificateID, placed.BidType, placed.BidAmount)
	return placed, nil
}

// OpenAuction transitions a scheduled auction to Open. Opening before the
// auction date requires the operator override.
func (e *Engine) OpenAuction(ctx context.Context, auctionID string, force bool) error {
	return e.db.WithTx(ctx, func(tx database.Tx) error {
		auction, err := tx.GetAuctionForUpdate(ctx, auctionID)
		if err != nil {
			return err
		}
		if auction.Status == types.AuctionScheduled && !CanOpenAt(auction, e.now(), force) {
			return errors.Newf(errors.ErrInvalidStateTransition,
				"auction %s does not open until %s", auction.ID, auction.AuctionDate.Format(time.RFC3339))
		}
		if err := Transition(&auction, types.AuctionOpen); err != nil {
			return err
		}
		log.Infof("Auction %s opened", auctionID)
		return tx.UpdateAuctionStatus(ctx, auctionID, types.AuctionOpen)
	})
}

// CloseAuction ends the bidding window. A bid in flight at the close
// instant either commits before the close is visible or fails validation;
// the shared row lock on the auction makes the two outcomes exhaustive.
func (e *Engine) CloseAuction(ctx context.Context, auctionID string) error {
	return e.db.WithTx(ctx, func(tx database.Tx) error {
		auction, err := tx.GetAuctionForUpdate(ctx, auctionID)
		if err != nil {
			return err
		}
		if err := Transition(&auction, types.AuctionClosed); err != nil {
			return err
		}
		log.Infof("Auction %s closed", auctionID)
		return tx.UpdateAuctionStatus(ctx, auctionID, types.AuctionClosed)
	})
}

// CancelAuction is the administrative kill switch. Cancelled is terminal:
// no winner is ever computed and every standing bid is void.
func (e *Engine) CancelAuction(ctx context.Context, auctionID string) error {
	return e.db.WithTx(ctx, func(tx database.Tx) error {
		auction, err := tx.GetAuctionForUpdate(ctx, auctionID)
		if err != nil {
			return err
		}
		if err := Transition(&auction, types.AuctionCancelled); err != nil {
			return err
		}
		log.Warnf("Auction %s cancelled", auctionID)
		return tx.UpdateAuctionStatus(ctx, auctionID, types.AuctionCancelled)
	})
}
