package engine

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/lienmarket/marketplace-server/internal/database"
	"github.com/lienmarket/marketplace-server/pkg/errors"
	"github.com/lienmarket/marketplace-server/pkg/types"
)

// SettleAuction resolves every unsold certificate of a closed auction and
// marks the auction Settled, all inside one serializable transaction.
// Settlement is all-or-nothing: any failure rolls the whole run back and
// leaves the auction Closed, safe to re-run. Re-running against an
// already-settled auction fails instead of re-resolving.
func (e *Engine) SettleAuction(ctx context.Context, auctionID string) (types.SettlementReport, error) {
	report := types.SettlementReport{AuctionID: auctionID}

	err := e.db.WithTx(ctx, func(tx database.Tx) error {
		auction, err := tx.GetAuctionForUpdate(ctx, auctionID)
		if err != nil {
			return err
		}
		if auction.Status != types.AuctionClosed {
			return errors.Newf(errors.ErrAuctionNotReadyForSettlement,
				"auction %s is %s, settlement requires Closed", auctionID, auction.Status)
		}

		certs, err := tx.ListCertificatesForAuction(ctx, auctionID)
		if err != nil {
			return err
		}

		now := e.now()
		for _, cert := range certs {
			if cert.Status != types.CertificateUnsold {
				continue
			}

			bids, err := tx.ListBidsForCertificate(ctx, cert.ID)
			if err != nil {
				return err
			}

			winner, status := ResolveWinner(cert, bids)
			if status == NoBids {
				// Stays Unsold, eligible for a future re-auction.
				report.Unsold++
				continue
			}

			cert.Status = types.CertificateActive
			cert.BuyerID = &winner.UserID
			cert.PurchaseDate = &now
			amount := winner.BidAmount
			switch winner.BidType {
			case types.BidInterestRate:
				cert.InterestRate = &amount
			case types.BidPremium:
				cert.Premium = &amount
			}

			if err := tx.UpdateCertificate(ctx, cert); err != nil {
				return err
			}
			if err := tx.MarkWinningBid(ctx, winner.ID); err != nil {
				return err
			}

			report.Awarded++
			report.WinningBidIDs = append(report.WinningBidIDs, winner.ID)
		}

		if err := Transition(&auction, types.AuctionSettled); err != nil {
			return err
		}
		return tx.UpdateAuctionStatus(ctx, auctionID, types.AuctionSettled)
	})
	if err != nil {
		return types.SettlementReport{}, err
	}

	log.Infof("Auction %s settled: %d awarded, %d unsold", auctionID, report.Awarded, report.Unsold)
	return report, nil
}
