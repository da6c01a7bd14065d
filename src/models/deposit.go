package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawRow represents a single listing entry exactly as scraped from the
// upstream portal: every field is the raw cell text, in column order.
// Rows are ephemeral; they only exist between a page fetch and
// normalization.
type RawRow struct {
	Order            string `json:"order"`
	BankUser         string `json:"bankUser"`
	Username         string `json:"username"`
	BeforeDeposit    string `json:"beforeDeposit"`
	Deposit          string `json:"deposit"`
	RemainingBalance string `json:"remainingBalance"`
	TransactionTime  string `json:"transactionTime"`
	SlipTime         string `json:"slipTime"`
	BankDeposit      string `json:"bankDeposit"`
	MadeBy           string `json:"madeBy"`
	Status           string `json:"status"`
	Details          string `json:"details,omitempty"`
	Aff              string `json:"aff,omitempty"`

	// Positional origin, for rejection reporting. Not part of the upstream
	// payload.
	Page     int `json:"-"`
	RowIndex int `json:"-"`
}

// Deposit is the durable mirrored record. Order is the natural key: the
// engine upserts on it and never duplicates or deletes a row.
type Deposit struct {
	ID               int64           `json:"id,omitempty"`
	Order            string          `json:"order"`
	BankUser         string          `json:"bankUser"`
	Username         string          `json:"username"`
	BeforeDeposit    decimal.Decimal `json:"beforeDeposit"`
	Deposit          decimal.Decimal `json:"deposit"`
	RemainingBalance decimal.Decimal `json:"remainingBalance"`
	TransactionTime  time.Time       `json:"transactionTime"`
	SlipTime         time.Time       `json:"slipTime"`
	BankDeposit      string          `json:"bankDeposit"`
	MadeBy           string          `json:"madeBy"`
	Status           string          `json:"status"`
	Details          *string         `json:"details"` // nil = absent upstream
	Aff              *string         `json:"aff"`     // nil = absent upstream
	CreatedAt        time.Time       `json:"createdAt,omitempty"`
	UpdatedAt        time.Time       `json:"updatedAt,omitempty"`
}

// DepositFilter narrows listing, export and count queries.
type DepositFilter struct {
	Username  string     // substring match, empty = all
	StartDate *time.Time // inclusive, on transaction_time
	EndDate   *time.Time // inclusive
	Page      int        // 1-based; ignored by export
	PerPage   int
}

// BankSummary is the per-bank aggregate used by the summary report.
type BankSummary struct {
	BankDeposit string          `json:"bankDeposit"`
	Amount      decimal.Decimal `json:"amount"`
	Count       int             `json:"count"`
}

// DailySummary is the per-day aggregate used by the summary report.
type DailySummary struct {
	Date   string          `json:"date"` // YYYY-MM-DD
	Amount decimal.Decimal `json:"amount"`
	Count  int             `json:"count"`
}

// SummaryReport aggregates successful deposits over a date range.
type SummaryReport struct {
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	UniqueUsersCount int             `json:"uniqueUsersCount"`
	DepositsByBank   []BankSummary   `json:"depositsByBank"`
	DailyDeposits    []DailySummary  `json:"dailyDeposits"`
}
