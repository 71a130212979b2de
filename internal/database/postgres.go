package database

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/lienmarket/marketplace-server/configs"
	"github.com/lienmarket/marketplace-server/pkg/errors"
	"github.com/lienmarket/marketplace-server/pkg/types"
)

type service struct {
	db *sql.DB
}

// New opens the Postgres pool and runs pending migrations.
func New(cfg *configs.Config) (Service, error) {
	dbConfig := cfg.Database
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbConfig.User,
		dbConfig.Password,
		dbConfig.Host,
		dbConfig.Port,
		dbConfig.Name,
		dbConfig.SSLMode,
	)

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if dbConfig.MigrationURL != "" {
		if err := runMigrations(dbConfig.MigrationURL, connStr); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &service{db: db}, nil
}

// NewFromConn wraps an existing connection. Used by integration tests that
// bring up their own database.
func NewFromConn(db *sql.DB) Service {
	return &service{db: db}
}

func runMigrations(migrationURL, dbSource string) error {
	m, err := migrate.New(migrationURL, dbSource)
	if err != nil {
		return fmt.Errorf("error creating migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("error running migrations: %w", err)
	}
	log.Info("Database migrations applied")
	return nil
}

// Health checks the health of the database connection by pinging the database.
// It returns a map with keys indicating various health statistics.
func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	if err := s.db.PingContext(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "It's healthy"

	dbStats := s.db.Stats()
	stats["open_connections"] = strconv.Itoa(dbStats.OpenConnections)
	stats["in_use"] = strconv.Itoa(dbStats.InUse)
	stats["idle"] = strconv.Itoa(dbStats.Idle)
	stats["wait_count"] = strconv.FormatInt(dbStats.WaitCount, 10)
	stats["wait_duration"] = dbStats.WaitDuration.String()

	if dbStats.OpenConnections > 40 {
		stats["message"] = "The database is experiencing heavy load."
	}
	if dbStats.WaitCount > 1000 {
		stats["message"] = "The database has a high number of wait events, indicating potential bottlenecks."
	}

	return stats
}

// Close closes the database connection.
func (s *service) Close() error {
	log.Info("Disconnected from database")
	return s.db.Close()
}

func (s *service) GetUserByEmail(ctx context.Context, email string) (types.User, error) {
	var user types.User
	query := `SELECT id, name, email, role, account_status, kyc_verified, created_at, updated_at
	          FROM users WHERE email = $1`
	err := s.db.QueryRowContext(ctx, query, email).Scan(
		&user.ID, &user.Name, &user.Email, &user.Role,
		&user.AccountStatus, &user.KYCVerified, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return types.User{}, wrapRowErr(err, "error getting user by email")
	}
	return user, nil
}

func (s *service) GetUser(ctx context.Context, userID string) (types.User, error) {
	return getUser(ctx, s.db, userID)
}

func (s *service) GetCounty(ctx context.Context, countyID string) (types.County, error) {
	var county types.County
	query := `SELECT id, name, state, website, created_at, updated_at FROM counties WHERE id = $1`
	err := s.db.QueryRowContext(ctx, query, countyID).Scan(
		&county.ID, &county.Name, &county.State, &county.Website, &county.CreatedAt, &county.UpdatedAt,
	)
	if err != nil {
		return types.County{}, wrapRowErr(err, "error getting county")
	}
	return county, nil
}

func (s *service) GetAuction(ctx context.Context, auctionID string) (types.Auction, error) {
	return getAuction(ctx, s.db, auctionID, false)
}

func (s *service) ListCurrentAuctions(ctx context.Context) ([]types.Auction, error) {
	query := auctionColumns + ` FROM auctions
	          WHERE status IN ('Scheduled', 'Open', 'Closed')
	          ORDER BY auction_date ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing current auctions: %w", err)
	}
	defer rows.Close()

	var auctions []types.Auction
	for rows.Next() {
		auction, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, auction)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over auctions: %w", err)
	}
	return auctions, nil
}

func (s *service) ListCertificatesForAuction(ctx context.Context, auctionID string) ([]types.Certificate, error) {
	return listCertificates(ctx, s.db, auctionID)
}

func (s *service) ListBidsForCertificate(ctx context.Context, certificateID string) ([]types.Bid, error) {
	return listBids(ctx, s.db, certificateID)
}

func (s *service) MarkCertificateRedeemed(ctx context.Context, certificateID string) (types.Certificate, error) {
	var cert types.Certificate
	query := `UPDATE certificates
	          SET status = 'Redeemed', redemption_date = now(), updated_at = now()
	          WHERE id = $1 AND status = 'Active'
	          RETURNING ` + certificateFields
	row := s.db.QueryRowContext(ctx, query, certificateID)
	cert, err := scanCertificate(row)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return types.Certificate{}, errors.Newf(errors.ErrInvalidStateTransition,
				"certificate %s is not active", certificateID)
		}
		return types.Certificate{}, fmt.Errorf("error redeeming certificate: %w", err)
	}
	return cert, nil
}

// WithTx runs fn inside a serializable transaction, the isolation level
// every bid write and settlement run depends on.
func (s *service) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return mapTxErr(err, "error starting transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		sqlTx.Rollback()
		return mapTxErr(err, "")
	}

	if err := sqlTx.Commit(); err != nil {
		return mapTxErr(err, "error committing transaction")
	}
	return nil
}

// mapTxErr converts serialization failures and deadlocks into the
// retryable conflict error; everything else passes through.
func mapTxErr(err error, msg string) error {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		// 40001 serialization_failure, 40P01 deadlock_detected
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return &errors.AppError{Code: errors.ErrTxConflict, Message: "transaction conflict, retry", Err: err}
		}
	}
	if msg != "" {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return err
}

func wrapRowErr(err error, msg string) error {
	if stderrors.Is(err, sql.ErrNoRows) {
		return &errors.AppError{Code: errors.ErrNotFound, Message: msg, Err: err}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// pgTx implements Tx over one *sql.Tx.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) GetAuctionForUpdate(ctx context.Context, auctionID string) (types.Auction, error) {
	return getAuction(ctx, t.tx, auctionID, true)
}

func (t *pgTx) GetCertificateForUpdate(ctx context.Context, certificateID string) (types.Certificate, error) {
	query := `SELECT ` + certificateFields + ` FROM certificates WHERE id = $1 FOR UPDATE`
	row := t.tx.QueryRowContext(ctx, query, certificateID)
	cert, err := scanCertificate(row)
	if err != nil {
		return types.Certificate{}, wrapRowErr(err, "error getting certificate for update")
	}
	return cert, nil
}

func (t *pgTx) GetUser(ctx context.Context, userID string) (types.User, error) {
	return getUser(ctx, t.tx, userID)
}

func (t *pgTx) ListBidsForCertificate(ctx context.Context, certificateID string) ([]types.Bid, error) {
	return listBids(ctx, t.tx, certificateID)
}

func (t *pgTx) ListCertificatesForAuction(ctx context.Context, auctionID string) ([]types.Certificate, error) {
	return listCertificates(ctx, t.tx, auctionID)
}

func (t *pgTx) InsertBid(ctx context.Context, bid types.Bid) (types.Bid, error) {
	var inserted types.Bid
	query := `INSERT INTO bids (id, auction_id, certificate_id, user_id, bid_type, bid_amount, is_winning_bid, bid_time)
	          VALUES ($1, $2, $3, $4, $5, $6, false, $7)
	          RETURNING id, auction_id, certificate_id, user_id, bid_type, bid_amount, is_winning_bid, bid_time, created_at`
	err := t.tx.QueryRowContext(ctx, query,
		bid.ID, bid.AuctionID, bid.CertificateID, bid.UserID, bid.BidType, bid.BidAmount, bid.BidTime,
	).Scan(
		&inserted.ID, &inserted.AuctionID, &inserted.CertificateID, &inserted.UserID,
		&inserted.BidType, &inserted.BidAmount, &inserted.IsWinningBid, &inserted.BidTime, &inserted.CreatedAt,
	)
	if err != nil {
		return types.Bid{}, fmt.Errorf("error inserting bid: %w", err)
	}
	return inserted, nil
}

func (t *pgTx) UpdateCertificate(ctx context.Context, cert types.Certificate) error {
	query := `UPDATE certificates
	          SET status = $1, interest_rate = $2, premium = $3, buyer_id = $4,
	              purchase_date = $5, redemption_date = $6, updated_at = now()
	          WHERE id = $7`
	res, err := t.tx.ExecContext(ctx, query,
		cert.Status, cert.InterestRate, cert.Premium, cert.BuyerID,
		cert.PurchaseDate, cert.RedemptionDate, cert.ID,
	)
	if err != nil {
		return fmt.Errorf("error updating certificate: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error updating certificate: %w", err)
	}
	if affected == 0 {
		return errors.Newf(errors.ErrNotFound, "certificate %s not found", cert.ID)
	}
	return nil
}

func (t *pgTx) UpdateAuctionStatus(ctx context.Context, auctionID string, status types.AuctionStatus) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE auctions SET status = $1, updated_at = now() WHERE id = $2`, status, auctionID)
	if err != nil {
		return fmt.Errorf("error updating auction status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error updating auction status: %w", err)
	}
	if affected == 0 {
		return errors.Newf(errors.ErrNotFound, "auction %s not found", auctionID)
	}
	return nil
}

func (t *pgTx) MarkWinningBid(ctx context.Context, bidID string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE bids SET is_winning_bid = true WHERE id = $1`, bidID)
	if err != nil {
		return fmt.Errorf("error marking winning bid: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error marking winning bid: %w", err)
	}
	if affected == 0 {
		return errors.Newf(errors.ErrNotFound, "bid %s not found", bidID)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx so the scan helpers can
// serve plain reads and in-transaction reads alike.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const auctionColumns = `SELECT id, county_id, auction_date, status, bidding_mode, ad_url, created_at, updated_at`

const certificateFields = `id, certificate_number, county_id, property_id, auction_id, status,
	face_value, interest_rate, premium, buyer_id, purchase_date, redemption_date, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func getAuction(ctx context.Context, q querier, auctionID string, forUpdate bool) (types.Auction, error) {
	query := auctionColumns + ` FROM auctions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	auction, err := scanAuction(q.QueryRowContext(ctx, query, auctionID))
	if err != nil {
		return types.Auction{}, wrapRowErr(err, "error getting auction by id")
	}
	return auction, nil
}

func scanAuction(row rowScanner) (types.Auction, error) {
	var auction types.Auction
	err := row.Scan(
		&auction.ID,
		&auction.CountyID,
		&auction.AuctionDate,
		&auction.Status,
		&auction.BiddingMode,
		&auction.AdURL,
		&auction.CreatedAt,
		&auction.UpdatedAt,
	)
	return auction, err
}

func scanCertificate(row rowScanner) (types.Certificate, error) {
	var cert types.Certificate
	err := row.Scan(
		&cert.ID,
		&cert.CertificateNumber,
		&cert.CountyID,
		&cert.PropertyID,
		&cert.AuctionID,
		&cert.Status,
		&cert.FaceValue,
		&cert.InterestRate,
		&cert.Premium,
		&cert.BuyerID,
		&cert.PurchaseDate,
		&cert.RedemptionDate,
		&cert.CreatedAt,
		&cert.UpdatedAt,
	)
	return cert, err
}

func getUser(ctx context.Context, q querier, userID string) (types.User, error) {
	var user types.User
	query := `SELECT id, name, email, role, account_status, kyc_verified, created_at, updated_at
	          FROM users WHERE id = $1`
	err := q.QueryRowContext(ctx, query, userID).Scan(
		&user.ID, &user.Name, &user.Email, &user.Role,
		&user.AccountStatus, &user.KYCVerified, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return types.User{}, wrapRowErr(err, "error getting user by id")
	}
	return user, nil
}

func listCertificates(ctx context.Context, q querier, auctionID string) ([]types.Certificate, error) {
	query := `SELECT ` + certificateFields + ` FROM certificates
	          WHERE auction_id = $1 ORDER BY certificate_number ASC`
	rows, err := q.QueryContext(ctx, query, auctionID)
	if err != nil {
		return nil, fmt.Errorf("error listing certificates: %w", err)
	}
	defer rows.Close()

	var certs []types.Certificate
	for rows.Next() {
		cert, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over certificates: %w", err)
	}
	return certs, nil
}

func listBids(ctx context.Context, q querier, certificateID string) ([]types.Bid, error) {
	query := `SELECT id, auction_id, certificate_id, user_id, bid_type, bid_amount, is_winning_bid, bid_time, created_at
	          FROM bids WHERE certificate_id = $1 ORDER BY bid_time ASC, id ASC`
	rows, err := q.QueryContext(ctx, query, certificateID)
	if err != nil {
		return nil, fmt.Errorf("error listing bids: %w", err)
	}
	defer rows.Close()

	var bids []types.Bid
	for rows.Next() {
		var bid types.Bid
		err := rows.Scan(
			&bid.ID, &bid.AuctionID, &bid.CertificateID, &bid.UserID,
			&bid.BidType, &bid.BidAmount, &bid.IsWinningBid, &bid.BidTime, &bid.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning bid: %w", err)
		}
		bids = append(bids, bid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over bids: %w", err)
	}
	return bids, nil
}
