// Package models provides domain models for the Form 4 ingestion pipeline.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind distinguishes direct trades from derivative instruments.
type TransactionKind string

const (
	KindNonDerivative TransactionKind = "Non-Derivative"
	KindDerivative    TransactionKind = "Derivative"
)

// Valid reports whether k is one of the two known kinds.
func (k TransactionKind) Valid() bool {
	return k == KindNonDerivative || k == KindDerivative
}

// TransactionType is the human-readable classification of a transaction code.
type TransactionType string

const (
	TypeBuy            TransactionType = "Buy"
	TypeSell           TransactionType = "Sell"
	TypeOptionExercise TransactionType = "Option Exercise"
	TypeAward          TransactionType = "Award"
	TypeOther          TransactionType = "Other"
)

// RecognizedCodes are the transaction codes eligible for promotion.
var RecognizedCodes = []string{"P", "S", "M", "A"}

// ClassifyCode maps a Form 4 transaction code to its TransactionType.
func ClassifyCode(code string) TransactionType {
	switch code {
	case "P":
		return TypeBuy
	case "S":
		return TypeSell
	case "M":
		return TypeOptionExercise
	case "A":
		return TypeAward
	default:
		return TypeOther
	}
}

// IsRecognizedCode reports whether code belongs to RecognizedCodes.
func IsRecognizedCode(code string) bool {
	for _, c := range RecognizedCodes {
		if c == code {
			return true
		}
	}
	return false
}

const (
	// DefaultSecurityTitle is used when a filing omits the security title.
	DefaultSecurityTitle = "Common Stock"
	// UnknownRelationship is the relationship recorded for newly seen insiders.
	UnknownRelationship = "Unknown"
	// DateLayout is the canonical YYYY-MM-DD layout used for all stored dates.
	DateLayout = "2006-01-02"
)

// FilingReference is a candidate Form 4 filing discovered in a daily index.
type FilingReference struct {
	Path        string
	FormType    string
	CompanyName string
	CIK         string
	DateFiled   string // YYYY-MM-DD, empty when the index line had no date column
}

// RawTransaction is one extracted transaction before identity resolution.
type RawTransaction struct {
	ID              int64
	IssuerName      string
	InsiderName     string
	TransactionDate string
	TransactionCode string
	SecurityTitle   *string
	Kind            TransactionKind
	Shares          decimal.Decimal
	PricePerShare   decimal.Decimal
	FilingPath      string
	FilingSeq       int // position of the row within its filing
	FilingDate      *string
	CreatedAt       time.Time
}

// Issuer is a resolved company identity.
type Issuer struct {
	CompanyID   int64
	CompanyName string
}

// Insider is a resolved reporting person scoped to one issuer.
type Insider struct {
	InsiderID    int64
	Name         string
	CompanyID    int64
	Relationship string
}

// Transaction is the normalized, append-only record.
type Transaction struct {
	TransactionID   int64           `json:"transaction_id"`
	InsiderID       int64           `json:"insider_id"`
	CompanyID       int64           `json:"company_id"`
	TransactionDate string          `json:"transaction_date"`
	TransactionCode string          `json:"transaction_code"`
	SecurityTitle   string          `json:"security_title"`
	TransactionType TransactionType `json:"transaction_type"`
	Shares          decimal.Decimal `json:"shares"`
	PricePerShare   decimal.Decimal `json:"price_per_share"`
	TotalValue      decimal.Decimal `json:"total_value"`
	FilingDate      string          `json:"filing_date"`
	FilingPath      string          `json:"filing_path,omitempty"`
	FilingSeq       int             `json:"-"`
	CreatedAt       time.Time       `json:"reported_at"`
}

// TransactionView is a Transaction joined with insider and company names,
// the shape read by the dashboard.
type TransactionView struct {
	Transaction
	InsiderName string `json:"insider_name"`
	CompanyName string `json:"company_name"`
}
