package engine

import (
	"github.com/shopspring/decimal"

	"github.com/lienmarket/marketplace-server/pkg/errors"
	"github.com/lienmarket/marketplace-server/pkg/types"
)

// ValidateBid checks a candidate bid against the auction, certificate and
// prior bids. Rules run in order and the first failure wins. The function
// is pure: every input must come from one consistent snapshot, taken
// inside the same transaction that inserts the bid.
func ValidateBid(candidate types.Bid, auction types.Auction, cert types.Certificate, existing []types.Bid, bidder types.User, allowTies bool) error {
	if auction.Status != types.AuctionOpen {
		return errors.Newf(errors.ErrAuctionNotOpen, "auction %s is %s, not open for bidding", auction.ID, auction.Status)
	}

	if cert.AuctionID != auction.ID || cert.Status != types.CertificateUnsold {
		return errors.Newf(errors.ErrCertificateNotBiddable, "certificate %s is not biddable", cert.ID)
	}

	if bidder.AccountStatus != types.AccountActive || !bidder.KYCVerified {
		return errors.Newf(errors.ErrBidderNotEligible, "bidder %s is not eligible to bid", bidder.ID)
	}

	if candidate.BidType != auction.BiddingMode {
		return errors.Newf(errors.ErrBidTypeMismatch,
			"bid type %s does not match auction mode %s", candidate.BidType, auction.BiddingMode)
	}

	switch auction.BiddingMode {
	case types.BidInterestRate:
		return validateRateBid(candidate, cert, existing, allowTies)
	case types.BidPremium:
		return validatePremiumBid(candidate, cert, existing, allowTies)
	}
	return errors.Newf(errors.ErrBidTypeMismatch, "auction %s has no bidding mode configured", auction.ID)
}

func validateRateBid(candidate types.Bid, cert types.Certificate, existing []types.Bid, allowTies bool) error {
	if cert.InterestRate == nil {
		return errors.Newf(errors.ErrCertificateNotBiddable, "certificate %s has no rate ceiling", cert.ID)
	}
	if candidate.BidAmount.IsNegative() || candidate.BidAmount.GreaterThan(*cert.InterestRate) {
		return errors.Newf(errors.ErrBidNotCompetitive,
			"rate must be between 0 and the %s%% ceiling", cert.InterestRate)
	}
	if best, ok := bestAmount(existing, types.BidInterestRate); ok {
		if candidate.BidAmount.GreaterThan(best) {
			return errors.Newf(errors.ErrBidNotCompetitive, "rate must beat the current best of %s%%", best)
		}
		if !allowTies && candidate.BidAmount.Equal(best) {
			return errors.Newf(errors.ErrBidNotCompetitive, "rate must be strictly lower than %s%%", best)
		}
	}
	return nil
}

func validatePremiumBid(candidate types.Bid, cert types.Certificate, existing []types.Bid, allowTies bool) error {
	if candidate.BidAmount.LessThan(cert.FaceValue) {
		return errors.Newf(errors.ErrBidNotCompetitive,
			"premium bid must be at least the face value of %s", cert.FaceValue)
	}
	if best, ok := bestAmount(existing, types.BidPremium); ok {
		if candidate.BidAmount.LessThan(best) {
			return errors.Newf(errors.ErrBidNotCompetitive, "premium must beat the current best of %s", best)
		}
		if !allowTies && candidate.BidAmount.Equal(best) {
			return errors.Newf(errors.ErrBidNotCompetitive, "premium must be strictly higher than %s", best)
		}
	}
	return nil
}

// bestAmount returns the current best standing amount among existing bids:
// lowest rate in InterestRate mode, highest premium in Premium mode.
func bestAmount(existing []types.Bid, mode types.BiddingMode) (decimal.Decimal, bool) {
	var best decimal.Decimal
	found := false
	for _, b := range existing {
		if !found {
			best = b.BidAmount
			found = true
			continue
		}
		if mode == types.BidInterestRate && b.BidAmount.LessThan(best) {
			best = b.BidAmount
		}
		if mode == types.BidPremium && b.BidAmount.GreaterThan(best) {
			best = b.BidAmount
		}
	}
	return best, found
}
