// Package storage persists mirrored deposit records and serves the
// read-side queries (listing, export, summary aggregates).
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/depositmirror/backend/src/models"
)

// StatusSuccess is the upstream status value summary reports aggregate over.
const StatusSuccess = "success"

const depositColumns = `id, order_no, bank_user, username, before_deposit, deposit,
	remaining_balance, transaction_time, slip_time, bank_deposit, made_by,
	status, details, aff, created_at, updated_at`

// upsertQuery inserts on a new order number and overwrites mutable fields on
// a known one. The inequality guard on the UPDATE means re-ingesting an
// unchanged record reports zero rows affected, which is what makes the
// accepted count meaningful across repeated runs.
const upsertQuery = `
	INSERT INTO deposits (
		order_no, bank_user, username, before_deposit, deposit,
		remaining_balance, transaction_time, slip_time, bank_deposit,
		made_by, status, details, aff
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(order_no) DO UPDATE SET
		bank_user = excluded.bank_user,
		username = excluded.username,
		before_deposit = excluded.before_deposit,
		deposit = excluded.deposit,
		remaining_balance = excluded.remaining_balance,
		transaction_time = excluded.transaction_time,
		slip_time = excluded.slip_time,
		bank_deposit = excluded.bank_deposit,
		made_by = excluded.made_by,
		status = excluded.status,
		details = excluded.details,
		aff = excluded.aff,
		updated_at = CURRENT_TIMESTAMP
	WHERE bank_user IS NOT excluded.bank_user
		OR username IS NOT excluded.username
		OR before_deposit IS NOT excluded.before_deposit
		OR deposit IS NOT excluded.deposit
		OR remaining_balance IS NOT excluded.remaining_balance
		OR transaction_time IS NOT excluded.transaction_time
		OR slip_time IS NOT excluded.slip_time
		OR bank_deposit IS NOT excluded.bank_deposit
		OR made_by IS NOT excluded.made_by
		OR status IS NOT excluded.status
		OR details IS NOT excluded.details
		OR aff IS NOT excluded.aff`

// DepositStore wraps the SQLite deposits table. Batch writes are sequenced
// by the sync controller; the store itself never shares a transaction across
// callers.
type DepositStore struct {
	db *sql.DB
}

// NewDepositStore creates a DepositStore over an initialized database handle.
func NewDepositStore(db *sql.DB) *DepositStore {
	return &DepositStore{db: db}
}

// UpsertBatch applies one round's records in a single transaction, keyed on
// the order number. It returns how many records were actually inserted or
// changed. Any storage failure rolls the whole batch back; previously
// committed batches are unaffected.
func (s *DepositStore) UpsertBatch(ctx context.Context, records []models.Deposit) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning deposit batch transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertQuery)
	if err != nil {
		return 0, fmt.Errorf("preparing deposit upsert: %w", err)
	}
	defer stmt.Close()

	accepted := 0
	for _, rec := range records {
		res, err := stmt.ExecContext(ctx,
			rec.Order, rec.BankUser, rec.Username,
			rec.BeforeDeposit, rec.Deposit, rec.RemainingBalance,
			rec.TransactionTime, rec.SlipTime,
			rec.BankDeposit, rec.MadeBy, rec.Status,
			rec.Details, rec.Aff,
		)
		if err != nil {
			return 0, fmt.Errorf("upserting deposit order %s: %w", rec.Order, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("reading rows affected for order %s: %w", rec.Order, err)
		}
		accepted += int(affected)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing deposit batch: %w", err)
	}
	return accepted, nil
}

// List returns one page of deposits matching the filter, newest first,
// together with the total match count for pagination.
func (s *DepositStore) List(ctx context.Context, filter models.DepositFilter) ([]models.Deposit, int, error) {
	where, args := buildFilter(filter)

	var total int
	countQuery := "SELECT COUNT(*) FROM deposits" + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting deposits: %w", err)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage < 1 {
		perPage = 10
	}

	query := fmt.Sprintf("SELECT %s FROM deposits%s ORDER BY transaction_time DESC, id DESC LIMIT ? OFFSET ?",
		depositColumns, where)
	listArgs := append(append([]any{}, args...), perPage, (page-1)*perPage)

	deposits, err := s.queryDeposits(ctx, query, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	return deposits, total, nil
}

// ListAll returns every deposit matching the filter, newest first. Used by
// the export endpoint.
func (s *DepositStore) ListAll(ctx context.Context, filter models.DepositFilter) ([]models.Deposit, error) {
	where, args := buildFilter(filter)
	query := fmt.Sprintf("SELECT %s FROM deposits%s ORDER BY transaction_time DESC, id DESC",
		depositColumns, where)
	return s.queryDeposits(ctx, query, args...)
}

// Summary aggregates successful deposits over an inclusive date range:
// total amount, unique depositing users, per-bank and per-day breakdowns.
func (s *DepositStore) Summary(ctx context.Context, from, to time.Time) (models.SummaryReport, error) {
	report := models.SummaryReport{
		TotalAmount:    decimal.Zero,
		DepositsByBank: []models.BankSummary{},
		DailyDeposits:  []models.DailySummary{},
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(deposit), 0), COUNT(DISTINCT username)
		FROM deposits
		WHERE status = ? AND transaction_time >= ? AND transaction_time <= ?`,
		StatusSuccess, from, to,
	).Scan(&report.TotalAmount, &report.UniqueUsersCount)
	if err != nil {
		return report, fmt.Errorf("aggregating deposit totals: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT bank_deposit, COALESCE(SUM(deposit), 0), COUNT(*)
		FROM deposits
		WHERE status = ? AND transaction_time >= ? AND transaction_time <= ?
		GROUP BY bank_deposit
		ORDER BY SUM(deposit) DESC`,
		StatusSuccess, from, to,
	)
	if err != nil {
		return report, fmt.Errorf("aggregating deposits by bank: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var bank models.BankSummary
		if err := rows.Scan(&bank.BankDeposit, &bank.Amount, &bank.Count); err != nil {
			return report, fmt.Errorf("scanning bank summary: %w", err)
		}
		report.DepositsByBank = append(report.DepositsByBank, bank)
	}
	if err := rows.Err(); err != nil {
		return report, fmt.Errorf("iterating bank summaries: %w", err)
	}

	dailyRows, err := s.db.QueryContext(ctx, `
		SELECT date(transaction_time), COALESCE(SUM(deposit), 0), COUNT(*)
		FROM deposits
		WHERE status = ? AND transaction_time >= ? AND transaction_time <= ?
		GROUP BY date(transaction_time)
		ORDER BY date(transaction_time)`,
		StatusSuccess, from, to,
	)
	if err != nil {
		return report, fmt.Errorf("aggregating daily deposits: %w", err)
	}
	defer dailyRows.Close()
	for dailyRows.Next() {
		var day models.DailySummary
		if err := dailyRows.Scan(&day.Date, &day.Amount, &day.Count); err != nil {
			return report, fmt.Errorf("scanning daily summary: %w", err)
		}
		report.DailyDeposits = append(report.DailyDeposits, day)
	}
	if err := dailyRows.Err(); err != nil {
		return report, fmt.Errorf("iterating daily summaries: %w", err)
	}

	return report, nil
}

// buildFilter translates a DepositFilter into a WHERE clause and its args.
func buildFilter(filter models.DepositFilter) (string, []any) {
	var clauses []string
	var args []any
	if filter.Username != "" {
		clauses = append(clauses, "username LIKE ?")
		args = append(args, "%"+filter.Username+"%")
	}
	if filter.StartDate != nil && filter.EndDate != nil {
		clauses = append(clauses, "transaction_time >= ? AND transaction_time <= ?")
		args = append(args, *filter.StartDate, *filter.EndDate)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *DepositStore) queryDeposits(ctx context.Context, query string, args ...any) ([]models.Deposit, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying deposits: %w", err)
	}
	defer rows.Close()

	deposits := []models.Deposit{}
	for rows.Next() {
		var d models.Deposit
		var details, aff sql.NullString
		err := rows.Scan(
			&d.ID, &d.Order, &d.BankUser, &d.Username,
			&d.BeforeDeposit, &d.Deposit, &d.RemainingBalance,
			&d.TransactionTime, &d.SlipTime,
			&d.BankDeposit, &d.MadeBy, &d.Status,
			&details, &aff, &d.CreatedAt, &d.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning deposit: %w", err)
		}
		if details.Valid {
			d.Details = &details.String
		}
		if aff.Valid {
			d.Aff = &aff.String
		}
		deposits = append(deposits, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deposits: %w", err)
	}
	return deposits, nil
}
