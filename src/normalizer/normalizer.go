// Package normalizer converts raw scraped rows into typed, validated
// deposit records. Rejections are reported per row and never abort a batch.
package normalizer

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/depositmirror/backend/src/models"
)

// Rejection reasons.
const (
	ReasonInvalidTimestamp = "invalid timestamp"
	ReasonMissingOrder     = "missing order"
)

// RejectionError describes why a single row was excluded from persistence.
type RejectionError struct {
	Order    string
	Page     int
	RowIndex int
	Reason   string
	Err      error
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("reject row %d on page %d (order %q): %s", e.RowIndex, e.Page, e.Order, e.Reason)
}

func (e *RejectionError) Unwrap() error { return e.Err }

var whitespaceRe = regexp.MustCompile(`\s+`)

// Normalizer holds the locale settings needed to parse the upstream's
// rendered timestamps. The layout is Go reference-time form; months maps the
// upstream's localized month abbreviations onto English ones; suffix is the
// clock marker the upstream appends after the time (Thai "น.").
type Normalizer struct {
	layout        string
	suffix        string
	monthReplacer *strings.Replacer
}

// New builds a Normalizer for the given timestamp locale settings.
func New(layout, suffix string, months map[string]string) *Normalizer {
	pairs := make([]string, 0, len(months)*2)
	for from, to := range months {
		pairs = append(pairs, from, to)
	}
	return &Normalizer{
		layout:        layout,
		suffix:        suffix,
		monthReplacer: strings.NewReplacer(pairs...),
	}
}

// Normalize validates and converts one raw row. The returned error, when
// non-nil, is always a *RejectionError.
func (n *Normalizer) Normalize(row models.RawRow) (models.Deposit, error) {
	order := strings.TrimSpace(row.Order)
	if order == "" {
		return models.Deposit{}, &RejectionError{
			Page: row.Page, RowIndex: row.RowIndex, Reason: ReasonMissingOrder,
		}
	}

	transactionTime, err := n.parseTimestamp(row.TransactionTime)
	if err != nil {
		return models.Deposit{}, &RejectionError{
			Order: order, Page: row.Page, RowIndex: row.RowIndex,
			Reason: ReasonInvalidTimestamp, Err: err,
		}
	}
	slipTime, err := n.parseTimestamp(row.SlipTime)
	if err != nil {
		return models.Deposit{}, &RejectionError{
			Order: order, Page: row.Page, RowIndex: row.RowIndex,
			Reason: ReasonInvalidTimestamp, Err: err,
		}
	}

	return models.Deposit{
		Order:            order,
		BankUser:         collapseWhitespace(row.BankUser),
		Username:         collapseWhitespace(row.Username),
		BeforeDeposit:    parseAmount(row.BeforeDeposit),
		Deposit:          parseAmount(row.Deposit),
		RemainingBalance: parseAmount(row.RemainingBalance),
		TransactionTime:  transactionTime,
		SlipTime:         slipTime,
		BankDeposit:      collapseWhitespace(row.BankDeposit),
		MadeBy:           collapseWhitespace(row.MadeBy),
		Status:           collapseWhitespace(row.Status),
		Details:          optionalText(row.Details),
		Aff:              optionalText(row.Aff),
	}, nil
}

// parseTimestamp parses the upstream's locale-formatted timestamp text:
// clock suffix stripped, localized month abbreviation mapped to English,
// then parsed with the configured layout.
func (n *Normalizer) parseTimestamp(raw string) (time.Time, error) {
	cleaned := strings.TrimSpace(raw)
	if n.suffix != "" {
		cleaned = strings.TrimSpace(strings.TrimSuffix(cleaned, n.suffix))
	}
	cleaned = n.monthReplacer.Replace(cleaned)
	t, err := time.Parse(n.layout, cleaned)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %q with layout %q: %w", raw, n.layout, err)
	}
	return t, nil
}

// parseAmount parses a decimal amount. Empty or unparsable text is treated
// as zero, not as a rejection.
func parseAmount(raw string) decimal.Decimal {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if cleaned == "" {
		return decimal.Zero
	}
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero
	}
	return amount
}

// collapseWhitespace trims a free-text field and collapses embedded
// newlines and runs of whitespace to single spaces.
func collapseWhitespace(raw string) string {
	return whitespaceRe.ReplaceAllString(strings.TrimSpace(raw), " ")
}

// optionalText maps an empty value to nil so storage can distinguish
// "no value" from "empty string".
func optionalText(raw string) *string {
	cleaned := collapseWhitespace(raw)
	if cleaned == "" {
		return nil
	}
	return &cleaned
}
