package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/depositmirror/backend/src/collector"
	"github.com/username/depositmirror/backend/src/models"
	"github.com/username/depositmirror/backend/src/normalizer"
)

const testLayout = "2006-01-02 15:04"

// eventLog records fetch/persist ordering across goroutines.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) indexOf(event string) int {
	for i, e := range l.snapshot() {
		if e == event {
			return i
		}
	}
	return -1
}

// fakeCollector serves canned pages and can fail the first N attempts per
// page. Pages with no canned data come back empty, like a listing past its
// last page.
type fakeCollector struct {
	mu       sync.Mutex
	pages    map[int][]models.RawRow
	failures map[int]int
	log      *eventLog
}

func (f *fakeCollector) FetchPage(ctx context.Context, page int) ([]models.RawRow, error) {
	if f.log != nil {
		f.log.add(fmt.Sprintf("fetch:%d", page))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures[page] > 0 {
		f.failures[page]--
		return nil, &collector.FetchError{Page: page, Reason: collector.ReasonTimeout}
	}
	return f.pages[page], nil
}

type fakeStore struct {
	mu      sync.Mutex
	batches [][]models.Deposit
	log     *eventLog
	err     error
}

func (s *fakeStore) UpsertBatch(ctx context.Context, records []models.Deposit) (int, error) {
	if s.log != nil {
		s.log.add("persist")
	}
	if s.err != nil {
		return 0, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, records)
	return len(records), nil
}

func (s *fakeStore) totalRecords() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, b := range s.batches {
		total += len(b)
	}
	return total
}

func makeRows(page, n int) []models.RawRow {
	rows := make([]models.RawRow, n)
	for i := range rows {
		rows[i] = models.RawRow{
			Order:           fmt.Sprintf("DP-%d-%d", page, i),
			BankUser:        "SCB 123",
			Username:        "user",
			Deposit:         "100.00",
			TransactionTime: "2025-01-02 10:00",
			SlipTime:        "2025-01-02 09:59",
			BankDeposit:     "SCB",
			MadeBy:          "auto",
			Status:          "success",
			Page:            page,
			RowIndex:        i,
		}
	}
	return rows
}

func newController(col Collector, store DepositStore, cfg Config) *Controller {
	return New(col, normalizer.New(testLayout, "", nil), store, cfg)
}

func TestRun_TerminatesOnShortPage(t *testing.T) {
	// 5 full pages of 100 rows, then a 6th page with 2 rows: the run must
	// stop after the round containing page 6, having persisted 502 records.
	pages := map[int][]models.RawRow{}
	for p := 1; p <= 5; p++ {
		pages[p] = makeRows(p, 100)
	}
	pages[6] = makeRows(6, 2)

	store := &fakeStore{}
	ctrl := newController(&fakeCollector{pages: pages}, store, Config{
		FetchWidth:       2,
		RetryCeiling:     3,
		ExhaustThreshold: 2,
	})

	summary, err := ctrl.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StopExhausted, summary.StoppedBy)
	assert.Equal(t, 3, summary.Rounds)
	assert.Equal(t, 502, summary.RowsFetched)
	assert.Equal(t, 502, summary.RecordsAccepted)
	assert.Equal(t, 0, summary.RowsRejected)
	assert.Equal(t, 502, store.totalRecords())
}

func TestRun_RetryThenEmpty(t *testing.T) {
	// Page 1 succeeds on attempt 2 and contributes its rows. Page 2 fails
	// all 3 attempts and is downgraded to empty; with a would-be success on
	// attempt 4 never issued.
	col := &fakeCollector{
		pages:    map[int][]models.RawRow{1: makeRows(1, 10), 2: makeRows(2, 50)},
		failures: map[int]int{1: 1, 2: 3},
	}
	store := &fakeStore{}
	ctrl := newController(col, store, Config{
		FetchWidth:       2,
		RetryCeiling:     3,
		ExhaustThreshold: 2,
	})

	summary, err := ctrl.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.PagesExhausted)
	assert.Equal(t, 10, summary.RowsFetched)
	assert.Equal(t, 10, summary.RecordsAccepted)
	assert.Equal(t, StopExhausted, summary.StoppedBy)
}

func TestRun_RoundBarrier(t *testing.T) {
	// Round k+1's fetches must never start before round k's persistence
	// returned.
	log := &eventLog{}
	pages := map[int][]models.RawRow{
		1: makeRows(1, 100),
		2: makeRows(2, 100),
		3: makeRows(3, 100),
		4: makeRows(4, 100),
		5: makeRows(5, 1),
	}
	col := &fakeCollector{pages: pages, log: log}
	store := &fakeStore{log: log}
	ctrl := newController(col, store, Config{
		FetchWidth:       2,
		RetryCeiling:     3,
		ExhaustThreshold: 2,
	})

	_, err := ctrl.Run(context.Background())
	require.NoError(t, err)

	firstPersist := log.indexOf("persist")
	require.GreaterOrEqual(t, firstPersist, 0)
	assert.Greater(t, log.indexOf("fetch:3"), firstPersist)
	assert.Greater(t, log.indexOf("fetch:4"), firstPersist)

	events := log.snapshot()
	secondPersist := -1
	for i := firstPersist + 1; i < len(events); i++ {
		if events[i] == "persist" {
			secondPersist = i
			break
		}
	}
	require.GreaterOrEqual(t, secondPersist, 0)
	assert.Greater(t, log.indexOf("fetch:5"), secondPersist)
}

func TestRun_RejectionIsolation(t *testing.T) {
	// 3 unparsable timestamps in a 100-row page: 97 records persist, 3 are
	// counted, and the round is not aborted.
	rows := makeRows(1, 100)
	rows[10].TransactionTime = "garbage"
	rows[40].SlipTime = "also garbage"
	rows[70].TransactionTime = ""

	col := &fakeCollector{pages: map[int][]models.RawRow{
		1: rows,
		2: makeRows(2, 1),
	}}
	store := &fakeStore{}
	ctrl := newController(col, store, Config{
		FetchWidth:       1,
		RetryCeiling:     3,
		ExhaustThreshold: 2,
	})

	summary, err := ctrl.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.RowsRejected)
	assert.Len(t, summary.RejectionSamples, 3)
	require.Len(t, store.batches, 2)
	assert.Len(t, store.batches[0], 97)
	assert.Equal(t, 98, summary.RecordsAccepted)
}

func TestRun_PersistenceErrorAbortsRun(t *testing.T) {
	col := &fakeCollector{pages: map[int][]models.RawRow{1: makeRows(1, 100), 2: makeRows(2, 100)}}
	store := &fakeStore{err: errors.New("database is locked")}
	ctrl := newController(col, store, Config{
		FetchWidth:       2,
		RetryCeiling:     3,
		ExhaustThreshold: 2,
	})

	summary, err := ctrl.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StopPersistenceError, summary.StoppedBy)
	assert.Equal(t, 1, summary.Rounds)
}

func TestRun_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	col := &fakeCollector{pages: map[int][]models.RawRow{1: makeRows(1, 100)}}
	store := &fakeStore{}
	ctrl := newController(col, store, Config{FetchWidth: 2, RetryCeiling: 3, ExhaustThreshold: 2})

	summary, err := ctrl.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StopCancelled, summary.StoppedBy)
}
