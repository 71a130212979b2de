package database_test

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/lienmarket/marketplace-server/internal/database"
	"github.com/lienmarket/marketplace-server/internal/engine"
	apperrors "github.com/lienmarket/marketplace-server/pkg/errors"
	"github.com/lienmarket/marketplace-server/pkg/types"
)

// startPostgres brings up a disposable Postgres and applies the
// migrations. Requires a local Docker daemon; skipped with -short.
func startPostgres(t *testing.T) (database.Service, *sql.DB) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("lienmarket"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		testcontainers.TerminateContainer(container)
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	m, err := migrate.New("file://migrations", connStr)
	require.NoError(t, err)
	require.NoError(t, m.Up())

	db, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return database.NewFromConn(db), db
}

type seeded struct {
	auction types.Auction
	cert    types.Certificate
	users   []types.User
}

func seedRateAuction(t *testing.T, svc database.Service, db *sql.DB, bidders int) seeded {
	t.Helper()
	ctx := context.Background()

	countyID := uuid.NewString()
	propertyID := uuid.NewString()
	auctionID := uuid.NewString()
	certID := uuid.NewString()

	exec := func(query string, args ...any) {
		t.Helper()
		_, err := db.ExecContext(ctx, query, args...)
		require.NoError(t, err)
	}

	exec(`INSERT INTO counties (id, name, state) VALUES ($1, 'Hillsborough', 'FL')`, countyID)
	exec(`INSERT INTO properties (id, county_id, parcel_id, address, city, zip)
	      VALUES ($1, $2, $3, '101 E Kennedy Blvd', 'Tampa', '33602')`,
		propertyID, countyID, uuid.NewString())
	exec(`INSERT INTO auctions (id, county_id, auction_date, status, bidding_mode)
	      VALUES ($1, $2, now() - interval '1 hour', 'Open', 'InterestRate')`,
		auctionID, countyID)
	exec(`INSERT INTO certificates (id, certificate_number, county_id, property_id, auction_id, status, face_value, interest_rate)
	      VALUES ($1, $2, $3, $4, $5, 'Unsold', 5000, 18)`,
		certID, "2025-"+uuid.NewString()[:8], countyID, propertyID, auctionID)

	users := make([]types.User, bidders)
	for i := range users {
		id := uuid.NewString()
		exec(`INSERT INTO users (id, name, email, role, account_status, kyc_verified)
		      VALUES ($1, $2, $3, 'bidder', 'active', true)`,
			id, fmt.Sprintf("bidder%02d", i), fmt.Sprintf("bidder%02d-%s@example.com", i, id[:8]))
		users[i] = types.User{ID: id}
	}

	auction, err := svc.GetAuction(ctx, auctionID)
	require.NoError(t, err)
	certs, err := svc.ListCertificatesForAuction(ctx, auctionID)
	require.NoError(t, err)
	require.Len(t, certs, 1)

	return seeded{auction: auction, cert: certs[0], users: users}
}

func TestPostgresBidAndSettleFlow(t *testing.T) {
	svc, db := startPostgres(t)
	eng := engine.New(svc, true)
	ctx := context.Background()

	s := seedRateAuction(t, svc, db, 2)

	bidA, err := eng.PlaceBid(ctx, engine.PlaceBidRequest{
		AuctionID:     s.auction.ID,
		CertificateID: s.cert.ID,
		UserID:        s.users[0].ID,
		BidType:       types.BidInterestRate,
		BidAmount:     decimal.RequireFromString("12"),
	})
	require.NoError(t, err)
	require.False(t, bidA.IsWinningBid)

	bidB, err := eng.PlaceBid(ctx, engine.PlaceBidRequest{
		AuctionID:     s.auction.ID,
		CertificateID: s.cert.ID,
		UserID:        s.users[1].ID,
		BidType:       types.BidInterestRate,
		BidAmount:     decimal.RequireFromString("9"),
	})
	require.NoError(t, err)

	require.NoError(t, eng.CloseAuction(ctx, s.auction.ID))

	report, err := eng.SettleAuction(ctx, s.auction.ID)
	require.NoError(t, err)
	require.Equal(t, 1, report.Awarded)
	require.Equal(t, []string{bidB.ID}, report.WinningBidIDs)

	certs, err := svc.ListCertificatesForAuction(ctx, s.auction.ID)
	require.NoError(t, err)
	cert := certs[0]
	require.Equal(t, types.CertificateActive, cert.Status)
	require.Equal(t, s.users[1].ID, *cert.BuyerID)
	require.True(t, cert.InterestRate.Equal(decimal.RequireFromString("9")))

	bids, err := svc.ListBidsForCertificate(ctx, s.cert.ID)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	for _, b := range bids {
		require.Equal(t, b.ID == bidB.ID, b.IsWinningBid)
	}

	// Settlement is not re-runnable once Settled.
	_, err = eng.SettleAuction(ctx, s.auction.ID)
	require.Equal(t, apperrors.ErrAuctionNotReadyForSettlement, apperrors.Code(err))
}

// Concurrent bidders race improving rates against one certificate row.
// The FOR UPDATE lock serializes them: after retrying conflicts, the
// accepted bids must be strictly decreasing in commit order with no lost
// update.
func TestPostgresConcurrentBids(t *testing.T) {
	svc, db := startPostgres(t)
	eng := engine.New(svc, false)
	ctx := context.Background()

	const bidders = 8
	s := seedRateAuction(t, svc, db, bidders)

	var wg sync.WaitGroup
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := engine.PlaceBidRequest{
				AuctionID:     s.auction.ID,
				CertificateID: s.cert.ID,
				UserID:        s.users[i].ID,
				BidType:       types.BidInterestRate,
				BidAmount:     decimal.NewFromInt(int64(17 - i)),
			}
			for {
				_, err := eng.PlaceBid(ctx, req)
				if err == nil || !apperrors.Retryable(err) {
					if err != nil {
						require.Equal(t, apperrors.ErrBidNotCompetitive, apperrors.Code(err))
					}
					return
				}
				time.Sleep(10 * time.Millisecond)
			}
		}(i)
	}
	wg.Wait()

	bids, err := svc.ListBidsForCertificate(ctx, s.cert.ID)
	require.NoError(t, err)
	require.NotEmpty(t, bids)
	for i := 1; i < len(bids); i++ {
		require.True(t, bids[i].BidAmount.LessThan(bids[i-1].BidAmount),
			"accepted bid regressed: %s after %s", bids[i].BidAmount, bids[i-1].BidAmount)
	}
}

func TestPostgresRedemption(t *testing.T) {
	svc, db := startPostgres(t)
	eng := engine.New(svc, true)
	ctx := context.Background()

	s := seedRateAuction(t, svc, db, 1)

	_, err := eng.PlaceBid(ctx, engine.PlaceBidRequest{
		AuctionID:     s.auction.ID,
		CertificateID: s.cert.ID,
		UserID:        s.users[0].ID,
		BidType:       types.BidInterestRate,
		BidAmount:     decimal.RequireFromString("10"),
	})
	require.NoError(t, err)
	require.NoError(t, eng.CloseAuction(ctx, s.auction.ID))
	_, err = eng.SettleAuction(ctx, s.auction.ID)
	require.NoError(t, err)

	cert, err := svc.MarkCertificateRedeemed(ctx, s.cert.ID)
	require.NoError(t, err)
	require.Equal(t, types.CertificateRedeemed, cert.Status)
	require.NotNil(t, cert.RedemptionDate)

	_, err = svc.MarkCertificateRedeemed(ctx, s.cert.ID)
	require.Equal(t, apperrors.ErrInvalidStateTransition, apperrors.Code(err))
}

func TestPostgresGetMissingRows(t *testing.T) {
	svc, _ := startPostgres(t)
	ctx := context.Background()

	_, err := svc.GetAuction(ctx, uuid.NewString())
	require.True(t, stderrors.Is(err, sql.ErrNoRows) || apperrors.Code(err) == apperrors.ErrNotFound)

	_, err = svc.GetUserByEmail(ctx, "nobody@example.com")
	require.Equal(t, apperrors.ErrNotFound, apperrors.Code(err))
}
