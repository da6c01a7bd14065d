// Package collector fetches single pages of raw deposit rows from the
// upstream reporting portal. Two interchangeable strategies satisfy the same
// contract: a headless-browser strategy that scrapes the rendered listing
// table, and an HTTP strategy that hits the authenticated JSON listing
// endpoint. Neither strategy retries or caches; the sync controller owns
// retry policy.
package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/username/depositmirror/backend/src/models"
)

// Failure reasons carried by FetchError.
const (
	ReasonNetwork = "network"
	ReasonTimeout = "timeout"
	ReasonAuth    = "auth"
	ReasonRender  = "render"
	ReasonDecode  = "decode"
)

// Collector is the capability contract shared by both fetch strategies.
// FetchPage must be invocation-idempotent: every call issues an independent
// upstream request.
type Collector interface {
	// FetchPage retrieves one page of raw rows. It fails with a *FetchError
	// on network, render, timeout or authentication problems.
	FetchPage(ctx context.Context, page int) ([]models.RawRow, error)

	// Close releases any resources held by the strategy (browser process,
	// idle connections). Safe to call more than once.
	Close() error
}

// FetchError describes the failure of a single page fetch.
type FetchError struct {
	Page   int
	Reason string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch page %d: %s: %v", e.Page, e.Reason, e.Err)
	}
	return fmt.Sprintf("fetch page %d: %s", e.Page, e.Reason)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Config carries the upstream connection settings shared by both strategies.
// Credentials are threaded in explicitly at construction; there is no
// process-wide session state.
type Config struct {
	BaseURL            string
	XSRFToken          string
	SessionToken       string
	SessionCookieName  string
	PerPage            int
	NavigateTimeout    time.Duration
	TableTimeout       time.Duration
	LoadingPlaceholder string
}

// pageURL builds the listing URL for one page request.
func (c Config) pageURL(page int) string {
	return fmt.Sprintf("%s?page=%d&perPage=%d", c.BaseURL, page, c.PerPage)
}

// rowFromCells maps one table row's cell text, in upstream column order,
// onto a RawRow. Missing trailing cells (details, aff) stay empty.
func rowFromCells(cells []string, page, index int) models.RawRow {
	get := func(i int) string {
		if i < len(cells) {
			return cells[i]
		}
		return ""
	}
	return models.RawRow{
		Order:            get(0),
		BankUser:         get(1),
		Username:         get(2),
		BeforeDeposit:    get(3),
		Deposit:          get(4),
		RemainingBalance: get(5),
		TransactionTime:  get(6),
		SlipTime:         get(7),
		BankDeposit:      get(8),
		MadeBy:           get(9),
		Status:           get(10),
		Details:          get(11),
		Aff:              get(12),
		Page:             page,
		RowIndex:         index,
	}
}
