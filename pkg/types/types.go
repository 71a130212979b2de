package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type (
	AuctionStatus     string
	CertificateStatus string
	BiddingMode       string
	UserRole          string
	AccountStatus     string
)

const (
	AuctionScheduled AuctionStatus = "Scheduled"
	AuctionOpen      AuctionStatus = "Open"
	AuctionClosed    AuctionStatus = "Closed"
	AuctionSettled   AuctionStatus = "Settled"
	AuctionCancelled AuctionStatus = "Cancelled"

	CertificateUnsold    CertificateStatus = "Unsold"
	CertificateActive    CertificateStatus = "Active"
	CertificateRedeemed  CertificateStatus = "Redeemed"
	CertificateCancelled CertificateStatus = "Cancelled"

	// BidInterestRate is the reverse-auction mode: bidders compete by
	// offering progressively lower interest rates, lowest rate wins.
	BidInterestRate BiddingMode = "InterestRate"
	// BidPremium is the mode where bidders offer amounts above face
	// value, highest premium wins.
	BidPremium BiddingMode = "Premium"

	RoleBidder         UserRole = "bidder"
	RoleInvestor       UserRole = "investor"
	RoleAdmin          UserRole = "admin"
	RoleCountyOfficial UserRole = "county_official"
	RoleUser           UserRole = "user"

	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
	AccountClosed    AccountStatus = "closed"
)

// ValidAuctionStatus reports whether s is one of the closed set of
// auction statuses. Values outside the set are construction errors.
func ValidAuctionStatus(s AuctionStatus) bool {
	switch s {
	case AuctionScheduled, AuctionOpen, AuctionClosed, AuctionSettled, AuctionCancelled:
		return true
	}
	return false
}

// ValidCertificateStatus reports whether s is a known certificate status.
func ValidCertificateStatus(s CertificateStatus) bool {
	switch s {
	case CertificateUnsold, CertificateActive, CertificateRedeemed, CertificateCancelled:
		return true
	}
	return false
}

// ValidBiddingMode reports whether m is a known bidding mode.
func ValidBiddingMode(m BiddingMode) bool {
	return m == BidInterestRate || m == BidPremium
}

type User struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Email         string        `json:"email"`
	Role          UserRole      `json:"role"`
	AccountStatus AccountStatus `json:"accountStatus"`
	KYCVerified   bool          `json:"kycVerified"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

type County struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	State     string    `json:"state"`
	Website   *string   `json:"website,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Property struct {
	ID               string    `json:"id"`
	CountyID         string    `json:"countyId"`
	ParcelID         string    `json:"parcelId"`
	Address          string    `json:"address"`
	City             string    `json:"city"`
	Zip              string    `json:"zip"`
	LegalDescription *string   `json:"legalDescription,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type Auction struct {
	ID          string        `json:"id"`
	CountyID    string        `json:"countyId"`
	AuctionDate time.Time     `json:"auctionDate"`
	Status      AuctionStatus `json:"status"`
	BiddingMode BiddingMode   `json:"biddingMode"`
	AdURL       *string       `json:"adUrl,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

type Certificate struct {
	ID                string            `json:"id"`
	CertificateNumber string            `json:"certificateNumber"`
	CountyID          string            `json:"countyId"`
	PropertyID        string            `json:"propertyId"`
	AuctionID         string            `json:"auctionId"`
	Status            CertificateStatus `json:"status"`
	FaceValue         decimal.Decimal   `json:"faceValue"`
	// InterestRate holds the statutory ceiling before the auction is
	// settled and the winning bid's rate afterwards. Nil in Premium mode.
	InterestRate   *decimal.Decimal `json:"interestRate,omitempty"`
	Premium        *decimal.Decimal `json:"premium,omitempty"`
	BuyerID        *string          `json:"buyerId,omitempty"`
	PurchaseDate   *time.Time       `json:"purchaseDate,omitempty"`
	RedemptionDate *time.Time       `json:"redemptionDate,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

type Bid struct {
	ID            string          `json:"id"`
	AuctionID     string          `json:"auctionId"`
	CertificateID string          `json:"certificateId"`
	UserID        string          `json:"userId"`
	BidType       BiddingMode     `json:"bidType"`
	BidAmount     decimal.Decimal `json:"bidAmount"`
	IsWinningBid  bool            `json:"isWinningBid"`
	BidTime       time.Time       `json:"bidTime"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// SettlementReport summarizes one settlement run for observability and audit.
type SettlementReport struct {
	AuctionID     string   `json:"auctionId"`
	Awarded       int      `json:"awarded"`
	Unsold        int      `json:"unsold"`
	WinningBidIDs []string `json:"winningBidIds"`
}
