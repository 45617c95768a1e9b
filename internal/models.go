package internal

import "time"

type Admin struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type Application struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Email          string            `json:"email"`
	Country        string            `json:"country"`
	PaymentMethod  string            `json:"payment_method"`
	PaymentDetails string            `json:"payment_details"`
	Reason         string            `json:"reason"`
	Status         ApplicationStatus `json:"status"`
	Amount         int64             `json:"amount"`
	Paid           bool              `json:"paid"`
	ProofURL       string            `json:"proofUrl"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Winner is the public projection of a paid application.
type Winner struct {
	Name    string `json:"name"`
	Country string `json:"country"`
	Amount  int64  `json:"amount"`
}

type Affiliate struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Phone      string          `json:"phone"`
	Verified   bool            `json:"verified"`
	Earnings   int64           `json:"earnings"`
	Referrals  int             `json:"referrals"`
	Status     AffiliateStatus `json:"status"`
	ReferredBy *string         `json:"referred_by,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type Proof struct {
	ID          int64     `json:"id"`
	AffiliateID string    `json:"affiliate_id"`
	FileID      string    `json:"file_id"`
	MessageID   int       `json:"message_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type PaymentAttempt struct {
	LocalID     string         `json:"local_id" bson:"local_id"`
	Phone       string         `json:"phone" bson:"phone"`
	Amount      string         `json:"amount" bson:"amount"`
	Description string         `json:"transaction_desc" bson:"transaction_desc"`
	Success     bool           `json:"success" bson:"success"`
	Response    map[string]any `json:"response,omitempty" bson:"response,omitempty"`
	Error       string         `json:"error,omitempty" bson:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at" bson:"created_at"`
}

type Bundle struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	Data       string `json:"data" yaml:"data"`
	Validity   string `json:"validity" yaml:"validity"`
	Price      int64  `json:"price" yaml:"price"`
	PriceLabel string `json:"price_label" yaml:"-"`
}
