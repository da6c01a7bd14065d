// Package syncer orchestrates ingestion runs: rounds of concurrent page
// fetches with bounded per-page retry, normalization, batched idempotent
// persistence, end-of-stream detection and inter-round rate limiting toward
// the upstream host.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/username/depositmirror/backend/src/models"
	"golang.org/x/sync/errgroup"
)

// Stop causes reported in RunSummary.StoppedBy. Callers must be able to
// distinguish a genuinely exhausted stream from an aborted run.
const (
	StopExhausted        = "exhausted"
	StopCancelled        = "cancelled"
	StopPersistenceError = "persistence_error"
)

// maxRejectionSamples bounds how many rejection messages a summary carries.
const maxRejectionSamples = 5

// Collector fetches one page of raw rows. Satisfied by both collector
// strategies.
type Collector interface {
	FetchPage(ctx context.Context, page int) ([]models.RawRow, error)
}

// Normalizer converts one raw row into a typed record or rejects it.
type Normalizer interface {
	Normalize(row models.RawRow) (models.Deposit, error)
}

// DepositStore persists one round's records idempotently.
type DepositStore interface {
	UpsertBatch(ctx context.Context, records []models.Deposit) (int, error)
}

// Config tunes one controller. Zero values fall back to the observed
// upstream-friendly defaults.
type Config struct {
	// FetchWidth is the number of pages fetched concurrently per round.
	FetchWidth int
	// RetryCeiling is the total number of attempts per page before the page
	// is downgraded to an empty result.
	RetryCeiling int
	// RoundDelay is slept between rounds to avoid burst load upstream.
	RoundDelay time.Duration
	// ExhaustThreshold: a page returning this many rows or fewer signals
	// the end of the upstream stream.
	ExhaustThreshold int
	// StartPage is the first page of the run (1 if unset).
	StartPage int
}

func (c Config) withDefaults() Config {
	if c.FetchWidth <= 0 {
		c.FetchWidth = 2
	}
	if c.RetryCeiling <= 0 {
		c.RetryCeiling = 3
	}
	if c.ExhaustThreshold < 0 {
		c.ExhaustThreshold = 2
	}
	if c.StartPage <= 0 {
		c.StartPage = 1
	}
	return c
}

// RunSummary is the terminal outcome of one ingestion run.
type RunSummary struct {
	Rounds           int           `json:"rounds"`
	PagesFetched     int           `json:"pagesFetched"`
	RowsFetched      int           `json:"rowsFetched"`
	RecordsAccepted  int           `json:"recordsAccepted"`
	RowsRejected     int           `json:"rowsRejected"`
	PagesExhausted   int           `json:"pagesExhausted"`
	StoppedBy        string        `json:"stoppedBy"`
	Elapsed          time.Duration `json:"elapsed"`
	RejectionSamples []string      `json:"rejectionSamples,omitempty"`
}

// pageResult is one page's outcome within a round.
type pageResult struct {
	page      int
	rows      []models.RawRow
	exhausted bool // failed every attempt, downgraded to empty
}

// Controller drives ingestion runs. One run at a time; rounds never overlap:
// round k's persistence completes before round k+1's fetches begin.
type Controller struct {
	collector  Collector
	normalizer Normalizer
	store      DepositStore
	cfg        Config
	logger     *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets a custom logger for run-level logging.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// New creates a Controller over a collector strategy, a normalizer and a
// store.
func New(col Collector, norm Normalizer, store DepositStore, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		collector:  col,
		normalizer: norm,
		store:      store,
		cfg:        cfg.withDefaults(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Run executes one full ingestion run and reports its outcome. The returned
// summary is meaningful even when err is non-nil (partial progress up to the
// failure). Cancelling ctx stops the run between and within rounds.
func (c *Controller) Run(ctx context.Context) (summary RunSummary, err error) {
	start := time.Now()
	defer func() { summary.Elapsed = time.Since(start) }()

	summary.StoppedBy = StopExhausted
	cursor := c.cfg.StartPage

	c.logger.Info("sync run starting",
		"startPage", cursor,
		"fetchWidth", c.cfg.FetchWidth,
		"retryCeiling", c.cfg.RetryCeiling,
		"exhaustThreshold", c.cfg.ExhaustThreshold,
	)

	for {
		results, roundErr := c.fetchRound(ctx, cursor)
		if roundErr != nil {
			summary.StoppedBy = StopCancelled
			return summary, roundErr
		}
		summary.Rounds++

		// Normalize every row from every page in the round; rejections are
		// counted, never fatal.
		var records []models.Deposit
		terminate := false
		for _, pr := range results {
			summary.PagesFetched++
			summary.RowsFetched += len(pr.rows)
			if pr.exhausted {
				summary.PagesExhausted++
			}
			if len(pr.rows) <= c.cfg.ExhaustThreshold {
				terminate = true
			}
			for _, row := range pr.rows {
				rec, normErr := c.normalizer.Normalize(row)
				if normErr != nil {
					summary.RowsRejected++
					if len(summary.RejectionSamples) < maxRejectionSamples {
						summary.RejectionSamples = append(summary.RejectionSamples, normErr.Error())
					}
					c.logger.Warn("row rejected", "error", normErr)
					continue
				}
				records = append(records, rec)
			}
		}

		// Persist the round's batch strictly before deciding on, let alone
		// starting, the next round.
		accepted, persistErr := c.store.UpsertBatch(ctx, records)
		if persistErr != nil {
			summary.StoppedBy = StopPersistenceError
			return summary, fmt.Errorf("persisting round %d: %w", summary.Rounds, persistErr)
		}
		summary.RecordsAccepted += accepted

		c.logger.Info("round complete",
			"round", summary.Rounds,
			"firstPage", cursor,
			"rows", summary.RowsFetched,
			"accepted", summary.RecordsAccepted,
			"rejected", summary.RowsRejected,
		)

		if terminate {
			c.logger.Info("upstream stream exhausted",
				"rounds", summary.Rounds,
				"pagesExhausted", summary.PagesExhausted,
			)
			return summary, nil
		}

		cursor += c.cfg.FetchWidth

		select {
		case <-ctx.Done():
			summary.StoppedBy = StopCancelled
			return summary, ctx.Err()
		case <-time.After(c.cfg.RoundDelay):
		}
	}
}

// fetchRound issues the round's page fetches concurrently and waits for all
// of them (the round barrier). It only returns an error on cancellation;
// page-level failures are consumed by retry and the empty-page downgrade.
func (c *Controller) fetchRound(ctx context.Context, firstPage int) ([]pageResult, error) {
	results := make([]pageResult, c.cfg.FetchWidth)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.FetchWidth; i++ {
		i := i
		page := firstPage + i
		g.Go(func() error {
			rows, exhausted, err := c.fetchWithRetry(gctx, page)
			if err != nil {
				return err
			}
			results[i] = pageResult{page: page, rows: rows, exhausted: exhausted}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// fetchWithRetry attempts one page up to the retry ceiling. A page still
// failing after the last attempt is downgraded to an empty result so the
// round keeps moving; the downgrade is surfaced via the exhausted flag. Only
// cancellation propagates as an error.
func (c *Controller) fetchWithRetry(ctx context.Context, page int) ([]models.RawRow, bool, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.RetryCeiling; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		rows, err := c.collector.FetchPage(ctx, page)
		if err == nil {
			return rows, false, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		c.logger.Warn("page fetch failed",
			"page", page,
			"attempt", attempt,
			"retryCeiling", c.cfg.RetryCeiling,
			"error", err,
		)
	}
	c.logger.Error("page exhausted all attempts, treating as empty",
		"page", page,
		"error", lastErr,
	)
	return nil, true, nil
}
