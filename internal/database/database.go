package database

import (
	"context"

	"github.com/lienmarket/marketplace-server/pkg/types"
)

// Service is the transactional store the engine is built against. The
// concrete Postgres implementation lives in postgres.go; tests use the
// in-memory implementation in memory.go.
type Service interface {
	// Health returns a map of health status information.
	// The keys and values in the map are service-specific.
	Health() map[string]string

	// Close terminates the database connection.
	// It returns an error if the connection cannot be closed.
	Close() error

	// USER METHODS
	GetUserByEmail(ctx context.Context, email string) (types.User, error)
	GetUser(ctx context.Context, userID string) (types.User, error)

	// REFERENCE READS (transport / dashboard)
	GetCounty(ctx context.Context, countyID string) (types.County, error)
	GetAuction(ctx context.Context, auctionID string) (types.Auction, error)
	ListCurrentAuctions(ctx context.Context) ([]types.Auction, error)
	ListCertificatesForAuction(ctx context.Context, auctionID string) ([]types.Certificate, error)
	ListBidsForCertificate(ctx context.Context, certificateID string) ([]types.Bid, error)

	// REDEMPTION — records the Active -> Redeemed decision; the workflow
	// around it lives elsewhere.
	MarkCertificateRedeemed(ctx context.Context, certificateID string) (types.Certificate, error)

	// WithTx runs fn inside one serializable transaction. A rollback is
	// issued if fn returns an error or panics. Serialization conflicts
	// surface as a retryable error (errors.ErrTxConflict).
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the view of the store inside a serializable transaction. Reads
// that gate a write (auction status, certificate state, existing bids)
// must go through here so they cannot be stale at commit time.
type Tx interface {
	// GetAuctionForUpdate row-locks the auction so a concurrent close or
	// settlement cannot interleave with this transaction.
	GetAuctionForUpdate(ctx context.Context, auctionID string) (types.Auction, error)

	// GetCertificateForUpdate row-locks the certificate. Two bids racing
	// on the same certificate serialize here, so "is this competitive"
	// is always evaluated against the committed best.
	GetCertificateForUpdate(ctx context.Context, certificateID string) (types.Certificate, error)

	GetUser(ctx context.Context, userID string) (types.User, error)
	ListBidsForCertificate(ctx context.Context, certificateID string) ([]types.Bid, error)
	ListCertificatesForAuction(ctx context.Context, auctionID string) ([]types.Certificate, error)

	InsertBid(ctx context.Context, bid types.Bid) (types.Bid, error)
	UpdateCertificate(ctx context.Context, cert types.Certificate) error
	UpdateAuctionStatus(ctx context.Context, auctionID string, status types.AuctionStatus) error
	MarkWinningBid(ctx context.Context, bidID string) error
}
