package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lienmarket/marketplace-server/pkg/errors"
	"github.com/lienmarket/marketplace-server/pkg/types"
)

// MemoryStore is a concurrency-safe in-memory Service. A single mutex
// around WithTx gives it the same serializable behavior the Postgres
// implementation gets from the database, which is what the engine tests
// rely on.
type MemoryStore struct {
	mu           sync.Mutex
	users        map[string]types.User
	counties     map[string]types.County
	properties   map[string]types.Property
	auctions     map[string]types.Auction
	certificates map[string]types.Certificate
	bids         map[string][]types.Bid // key: certificateID, append-only
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        make(map[string]types.User),
		counties:     make(map[string]types.County),
		properties:   make(map[string]types.Property),
		auctions:     make(map[string]types.Auction),
		certificates: make(map[string]types.Certificate),
		bids:         make(map[string][]types.Bid),
	}
}

// Seed helpers: ids are generated when absent so fixtures stay short.

func (m *MemoryStore) PutUser(u types.User) types.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	m.users[u.ID] = u
	return u
}

func (m *MemoryStore) PutCounty(c types.County) types.County {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	m.counties[c.ID] = c
	return c
}

func (m *MemoryStore) PutProperty(p types.Property) types.Property {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	m.properties[p.ID] = p
	return p
}

func (m *MemoryStore) PutAuction(a types.Auction) types.Auction {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	m.auctions[a.ID] = a
	return a
}

func (m *MemoryStore) PutCertificate(c types.Certificate) types.Certificate {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	m.certificates[c.ID] = c
	return c
}

func (m *MemoryStore) Health() map[string]string {
	return map[string]string{"status": "up", "message": "in-memory store"}
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) GetUserByEmail(ctx context.Context, email string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return types.User{}, errors.Newf(errors.ErrNotFound, "user %s not found", email)
}

func (m *MemoryStore) GetUser(ctx context.Context, userID string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getUserLocked(userID)
}

func (m *MemoryStore) GetCounty(ctx context.Context, countyID string) (types.County, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	county, ok := m.counties[countyID]
	if !ok {
		return types.County{}, errors.Newf(errors.ErrNotFound, "county %s not found", countyID)
	}
	return county, nil
}

func (m *MemoryStore) GetAuction(ctx context.Context, auctionID string) (types.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getAuctionLocked(auctionID)
}

func (m *MemoryStore) ListCurrentAuctions(ctx context.Context) ([]types.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var auctions []types.Auction
	for _, a := range m.auctions {
		switch a.Status {
		case types.AuctionScheduled, types.AuctionOpen, types.AuctionClosed:
			auctions = append(auctions, a)
		}
	}
	sort.Slice(auctions, func(i, j int) bool {
		return auctions[i].AuctionDate.Before(auctions[j].AuctionDate)
	})
	return auctions, nil
}

func (m *MemoryStore) ListCertificatesForAuction(ctx context.Context, auctionID string) ([]types.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCertificatesLocked(auctionID), nil
}

func (m *MemoryStore) ListBidsForCertificate(ctx context.Context, certificateID string) ([]types.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listBidsLocked(certificateID), nil
}

func (m *MemoryStore) MarkCertificateRedeemed(ctx context.Context, certificateID string) (types.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cert, ok := m.certificates[certificateID]
	if !ok {
		return types.Certificate{}, errors.Newf(errors.ErrNotFound, "certificate %s not found", certificateID)
	}
	if cert.Status != types.CertificateActive {
		return types.Certificate{}, errors.Newf(errors.ErrInvalidStateTransition,
			"certificate %s is not active", certificateID)
	}
	now := time.Now()
	cert.Status = types.CertificateRedeemed
	cert.RedemptionDate = &now
	m.certificates[certificateID] = cert
	return cert, nil
}

// WithTx serializes all transactions behind one mutex and buffers writes
// until fn returns, so a failed transaction leaves no trace.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{store: m}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (m *MemoryStore) getUserLocked(userID string) (types.User, error) {
	u, ok := m.users[userID]
	if !ok {
		return types.User{}, errors.Newf(errors.ErrNotFound, "user %s not found", userID)
	}
	return u, nil
}

func (m *MemoryStore) getAuctionLocked(auctionID string) (types.Auction, error) {
	a, ok := m.auctions[auctionID]
	if !ok {
		return types.Auction{}, errors.Newf(errors.ErrNotFound, "auction %s not found", auctionID)
	}
	return a, nil
}

func (m *MemoryStore) listCertificatesLocked(auctionID string) []types.Certificate {
	var certs []types.Certificate
	for _, c := range m.certificates {
		if c.AuctionID == auctionID {
			certs = append(certs, c)
		}
	}
	sort.Slice(certs, func(i, j int) bool {
		return certs[i].CertificateNumber < certs[j].CertificateNumber
	})
	return certs
}

func (m *MemoryStore) listBidsLocked(certificateID string) []types.Bid {
	bids := make([]types.Bid, len(m.bids[certificateID]))
	copy(bids, m.bids[certificateID])
	return bids
}

// memTx buffers writes against the store it was opened on. The store
// mutex is held for the whole transaction, so reads see a consistent
// snapshot plus this transaction's own pending writes.
type memTx struct {
	store           *MemoryStore
	pendingBids     []types.Bid
	pendingCerts    map[string]types.Certificate
	pendingStatuses map[string]types.AuctionStatus
	pendingWinners  []string
}

func (t *memTx) GetAuctionForUpdate(ctx context.Context, auctionID string) (types.Auction, error) {
	if status, ok := t.pendingStatuses[auctionID]; ok {
		a, err := t.store.getAuctionLocked(auctionID)
		if err != nil {
			return types.Auction{}, err
		}
		a.Status = status
		return a, nil
	}
	return t.store.getAuctionLocked(auctionID)
}

func (t *memTx) GetCertificateForUpdate(ctx context.Context, certificateID string) (types.Certificate, error) {
	if cert, ok := t.pendingCerts[certificateID]; ok {
		return cert, nil
	}
	cert, ok := t.store.certificates[certificateID]
	if !ok {
		return types.Certificate{}, errors.Newf(errors.ErrNotFound, "certificate %s not found", certificateID)
	}
	return cert, nil
}

func (t *memTx) GetUser(ctx context.Context, userID string) (types.User, error) {
	return t.store.getUserLocked(userID)
}

func (t *memTx) ListBidsForCertificate(ctx context.Context, certificateID string) ([]types.Bid, error) {
	bids := t.store.listBidsLocked(certificateID)
	for _, b := range t.pendingBids {
		if b.CertificateID == certificateID {
			bids = append(bids, b)
		}
	}
	return bids, nil
}

func (t *memTx) ListCertificatesForAuction(ctx context.Context, auctionID string) ([]types.Certificate, error) {
	return t.store.listCertificatesLocked(auctionID), nil
}

func (t *memTx) InsertBid(ctx context.Context, bid types.Bid) (types.Bid, error) {
	if bid.ID == "" {
		bid.ID = uuid.NewString()
	}
	if bid.CreatedAt.IsZero() {
		bid.CreatedAt = time.Now()
	}
	t.pendingBids = append(t.pendingBids, bid)
	return bid, nil
}

func (t *memTx) UpdateCertificate(ctx context.Context, cert types.Certificate) error {
	if _, ok := t.store.certificates[cert.ID]; !ok {
		return errors.Newf(errors.ErrNotFound, "certificate %s not found", cert.ID)
	}
	if t.pendingCerts == nil {
		t.pendingCerts = make(map[string]types.Certificate)
	}
	t.pendingCerts[cert.ID] = cert
	return nil
}

func (t *memTx) UpdateAuctionStatus(ctx context.Context, auctionID string, status types.AuctionStatus) error {
	if _, ok := t.store.auctions[auctionID]; !ok {
		return errors.Newf(errors.ErrNotFound, "auction %s not found", auctionID)
	}
	if t.pendingStatuses == nil {
		t.pendingStatuses = make(map[string]types.AuctionStatus)
	}
	t.pendingStatuses[auctionID] = status
	return nil
}

func (t *memTx) MarkWinningBid(ctx context.Context, bidID string) error {
	t.pendingWinners = append(t.pendingWinners, bidID)
	return nil
}

func (t *memTx) commit() {
	for _, b := range t.pendingBids {
		t.store.bids[b.CertificateID] = append(t.store.bids[b.CertificateID], b)
	}
	for id, cert := range t.pendingCerts {
		t.store.certificates[id] = cert
	}
	for id, status := range t.pendingStatuses {
		a := t.store.auctions[id]
		a.Status = status
		t.store.auctions[id] = a
	}
	for _, bidID := range t.pendingWinners {
		for certID, bids := range t.store.bids {
			for i := range bids {
				if bids[i].ID == bidID {
					t.store.bids[certID][i].IsWinningBid = true
				}
			}
		}
	}
}
