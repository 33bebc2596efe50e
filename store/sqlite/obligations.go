package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/warp/franchise-billing/billing"
)

// =============================================================================
// OBLIGATION STORE (billing.Store interface)
// =============================================================================

func (s *Store) InsertObligation(ctx context.Context, o billing.Obligation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertObligation(ctx, s.db, o)
}

func (s *Store) UpdateObligation(ctx context.Context, o billing.Obligation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateObligation(ctx, s.db, o)
}

func (s *Store) GetObligation(ctx context.Context, id billing.ObligationID) (*billing.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getObligation(ctx, s.db, id)
}

func (s *Store) FindByScopePeriod(ctx context.Context, kind billing.Kind, scope billing.Scope, periodStart time.Time) (*billing.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findByScopePeriod(ctx, s.db, kind, scope, periodStart)
}

func (s *Store) ListObligations(ctx context.Context, filter billing.ObligationFilter) ([]billing.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listObligations(ctx, s.db, filter)
}

func (s *Store) NextSequence(ctx context.Context, prefix string, year int, month time.Month) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return nextSequence(ctx, s.db, prefix, year, month)
}

func (s *Store) AppendLedgerEntry(ctx context.Context, e billing.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendLedgerEntry(ctx, s.db, e)
}

func (s *Store) LedgerEntries(ctx context.Context, id billing.ObligationID) ([]billing.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ledgerEntries(ctx, s.db, id)
}

// =============================================================================
// QUERIES
// =============================================================================

const obligationColumns = `
	id, number, kind, franchise_id, unit_id, party_id, party_type, frequency,
	year, month, quarter, period_start, period_end, due_date,
	gross_amount, royalty_pct, marketing_pct, technology_fee,
	royalty_amount, marketing_amount, adjustment, adjustment_notes, late_fee, total,
	late_fee_rate, grace_period_days,
	status, payment_status, paid_at, payment_method, payment_reference, refunded_at,
	is_recurring, recurrence_type, recurrence_interval, recurrence_end, parent_id, is_reversal,
	notes, attachments_json, auto_generated, created_by, created_at, updated_at, version`

func insertObligation(ctx context.Context, q querier, o billing.Obligation) error {
	if err := o.CheckInvariants(); err != nil {
		return err
	}
	args := obligationArgs(o)
	query := `INSERT INTO obligations (` + obligationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
		        ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`

	_, err := q.ExecContext(ctx, query, args...)
	if err == nil {
		return nil
	}
	if isUniqueConstraintError(err) && strings.Contains(err.Error(), "obligations.period_start") {
		dup := &billing.DuplicateObligationError{
			Kind:        o.Kind,
			Scope:       o.Scope(),
			PeriodStart: formatDate(o.PeriodStart),
		}
		if existing, findErr := findByScopePeriod(ctx, q, o.Kind, o.Scope(), o.PeriodStart); findErr == nil && existing != nil {
			dup.ExistingID = existing.ID
		}
		return dup
	}
	return errors.Wrapf(err, "failed to insert obligation %s", o.ID)
}

// obligationArgs lists the column values in obligationColumns order, without version.
func obligationArgs(o billing.Obligation) []any {
	var recType sql.NullString
	var recInterval sql.NullInt64
	var recEnd sql.NullString
	if o.Recurrence != nil {
		recType = nullString(string(o.Recurrence.Type))
		recInterval = sql.NullInt64{Int64: int64(o.Recurrence.Interval), Valid: true}
		if o.Recurrence.EndDate != nil {
			recEnd = nullString(formatDate(*o.Recurrence.EndDate))
		}
	}
	var parent sql.NullString
	if o.ParentID != nil {
		parent = nullString(string(*o.ParentID))
	}
	var attachments sql.NullString
	if len(o.Attachments) > 0 {
		b, _ := json.Marshal(o.Attachments)
		attachments = nullString(string(b))
	}

	return []any{
		o.ID, o.Number, o.Kind, o.FranchiseID, o.UnitID, o.PartyID, o.PartyType, o.Frequency,
		o.Year, int(o.Month), o.Quarter, formatDate(o.PeriodStart), formatDate(o.PeriodEnd), formatDate(o.DueDate),
		o.GrossAmount.String(), o.RoyaltyPct.String(), o.MarketingPct.String(), o.TechnologyFee.String(),
		o.RoyaltyAmount.String(), o.MarketingAmount.String(), o.Adjustment.String(), o.AdjustmentNotes,
		o.LateFee.String(), o.Total.String(),
		o.LateFeeRate.String(), o.GracePeriodDays,
		o.Status, o.PaymentStatus, nullTime(o.PaidAt), o.PaymentMethod, o.PaymentReference, nullTime(o.RefundedAt),
		boolInt(o.IsRecurring), recType, recInterval, recEnd, parent, boolInt(o.IsReversal),
		o.Notes, attachments, boolInt(o.AutoGenerated), o.CreatedBy, formatTime(o.CreatedAt), formatTime(o.UpdatedAt),
	}
}

// updateObligation rewrites the mutable columns when the stored version
// still matches, bumping it by one.
func updateObligation(ctx context.Context, q querier, o billing.Obligation) error {
	if err := o.CheckInvariants(); err != nil {
		return err
	}
	query := `
		UPDATE obligations SET
			due_date = ?, royalty_amount = ?, marketing_amount = ?, technology_fee = ?,
			adjustment = ?, adjustment_notes = ?, late_fee = ?, total = ?,
			status = ?, payment_status = ?, paid_at = ?, payment_method = ?, payment_reference = ?,
			refunded_at = ?, notes = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`
	res, err := q.ExecContext(ctx, query,
		formatDate(o.DueDate), o.RoyaltyAmount.String(), o.MarketingAmount.String(), o.TechnologyFee.String(),
		o.Adjustment.String(), o.AdjustmentNotes, o.LateFee.String(), o.Total.String(),
		o.Status, o.PaymentStatus, nullTime(o.PaidAt), o.PaymentMethod, o.PaymentReference,
		nullTime(o.RefundedAt), o.Notes, formatTime(o.UpdatedAt),
		o.ID, o.Version,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update obligation %s", o.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM obligations WHERE id = ?", o.ID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return billing.ErrNotFound
	}
	return billing.ErrConcurrentModification
}

func getObligation(ctx context.Context, q querier, id billing.ObligationID) (*billing.Obligation, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+obligationColumns+" FROM obligations WHERE id = ?", id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query obligation")
	}
	list, err := scanObligations(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, billing.ErrNotFound
	}
	return &list[0], nil
}

func findByScopePeriod(ctx context.Context, q querier, kind billing.Kind, scope billing.Scope, periodStart time.Time) (*billing.Obligation, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+obligationColumns+`
		FROM obligations
		WHERE kind = ? AND franchise_id = ? AND unit_id = ? AND period_start = ? AND is_reversal = 0`,
		kind, scope.FranchiseID, scope.UnitID, formatDate(periodStart))
	if err != nil {
		return nil, errors.Wrap(err, "failed to query obligation by period")
	}
	list, err := scanObligations(rows)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// listObligations pushes billing.ObligationFilter down to SQL. Overdue is
// derived: pending rows whose due date is before the filter's day.
func listObligations(ctx context.Context, q querier, f billing.ObligationFilter) ([]billing.Obligation, error) {
	var where []string
	var args []any

	if f.FranchiseID != "" {
		where = append(where, "franchise_id = ?")
		args = append(args, f.FranchiseID)
	}
	if f.UnitID != nil {
		where = append(where, "unit_id = ?")
		args = append(args, *f.UnitID)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.Year != 0 {
		where = append(where, "year = ?")
		args = append(args, f.Year)
	}
	if f.Month != 0 {
		where = append(where, "month = ?")
		args = append(args, int(f.Month))
	}
	if f.RootID != "" {
		where = append(where, "(id = ? OR (parent_id = ? AND is_reversal = 0))")
		args = append(args, f.RootID, f.RootID)
	}
	asOf := formatDate(f.AsOfDate())
	switch f.Status {
	case "":
	case billing.StatusOverdue:
		where = append(where, "status = 'pending' AND due_date < ?")
		args = append(args, asOf)
	case billing.StatusPending:
		where = append(where, "status = 'pending' AND due_date >= ?")
		args = append(args, asOf)
	default:
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}

	query := "SELECT " + obligationColumns + " FROM obligations"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY period_start ASC, number ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list obligations")
	}
	return scanObligations(rows)
}

func scanObligations(rows *sql.Rows) ([]billing.Obligation, error) {
	defer rows.Close()

	var out []billing.Obligation
	for rows.Next() {
		o, err := scanObligation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanObligation(rows *sql.Rows) (billing.Obligation, error) {
	var o billing.Obligation
	var month int
	var periodStart, periodEnd, dueDate, createdAt, updatedAt string
	var gross, royaltyPct, marketingPct, techFee, royalty, marketing, adjustment, lateFee, total, lateRate string
	var paidAt, refundedAt, recType, recEnd, parent, attachments sql.NullString
	var recInterval sql.NullInt64
	var isRecurring, isReversal, autoGenerated int

	err := rows.Scan(
		&o.ID, &o.Number, &o.Kind, &o.FranchiseID, &o.UnitID, &o.PartyID, &o.PartyType, &o.Frequency,
		&o.Year, &month, &o.Quarter, &periodStart, &periodEnd, &dueDate,
		&gross, &royaltyPct, &marketingPct, &techFee,
		&royalty, &marketing, &adjustment, &o.AdjustmentNotes, &lateFee, &total,
		&lateRate, &o.GracePeriodDays,
		&o.Status, &o.PaymentStatus, &paidAt, &o.PaymentMethod, &o.PaymentReference, &refundedAt,
		&isRecurring, &recType, &recInterval, &recEnd, &parent, &isReversal,
		&o.Notes, &attachments, &autoGenerated, &o.CreatedBy, &createdAt, &updatedAt, &o.Version,
	)
	if err != nil {
		return o, errors.Wrap(err, "failed to scan obligation")
	}

	var p columnParser
	o.Month = time.Month(month)
	o.PeriodStart = p.date("period_start", periodStart)
	o.PeriodEnd = p.date("period_end", periodEnd)
	o.DueDate = p.date("due_date", dueDate)
	o.GrossAmount = p.decimal("gross_amount", gross)
	o.RoyaltyPct = p.decimal("royalty_pct", royaltyPct)
	o.MarketingPct = p.decimal("marketing_pct", marketingPct)
	o.TechnologyFee = p.decimal("technology_fee", techFee)
	o.RoyaltyAmount = p.decimal("royalty_amount", royalty)
	o.MarketingAmount = p.decimal("marketing_amount", marketing)
	o.Adjustment = p.decimal("adjustment", adjustment)
	o.LateFee = p.decimal("late_fee", lateFee)
	o.Total = p.decimal("total", total)
	o.LateFeeRate = p.decimal("late_fee_rate", lateRate)
	o.PaidAt = p.timePtr("paid_at", paidAt)
	o.RefundedAt = p.timePtr("refunded_at", refundedAt)
	o.IsRecurring = isRecurring == 1
	o.IsReversal = isReversal == 1
	o.AutoGenerated = autoGenerated == 1
	o.CreatedAt = p.time("created_at", createdAt)
	o.UpdatedAt = p.time("updated_at", updatedAt)

	if recType.Valid {
		r := &billing.Recurrence{Type: billing.RecurrenceType(recType.String), Interval: int(recInterval.Int64)}
		if recEnd.Valid {
			end := p.date("recurrence_end", recEnd.String)
			r.EndDate = &end
		}
		o.Recurrence = r
	}
	if parent.Valid {
		id := billing.ObligationID(parent.String)
		o.ParentID = &id
	}
	if attachments.Valid {
		if err := json.Unmarshal([]byte(attachments.String), &o.Attachments); err != nil {
			p.fail("attachments_json", attachments.String, err)
		}
	}
	if p.err != nil {
		return o, errors.Wrapf(p.err, "obligation %s", o.ID)
	}
	return o, nil
}

// =============================================================================
// NUMBER SEQUENCES
// =============================================================================

func nextSequence(ctx context.Context, q querier, prefix string, year int, month time.Month) (int, error) {
	query := `
		INSERT INTO number_sequences (prefix, year, month, last_value)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(prefix, year, month) DO UPDATE SET last_value = last_value + 1
		RETURNING last_value
	`
	var seq int
	if err := q.QueryRowContext(ctx, query, prefix, year, int(month)).Scan(&seq); err != nil {
		return 0, errors.Wrap(err, "failed to allocate sequence")
	}
	return seq, nil
}

// =============================================================================
// LEDGER
// =============================================================================

func appendLedgerEntry(ctx context.Context, q querier, e billing.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries
		(id, obligation_id, franchise_id, unit_id, entry_type, amount, method, reference, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		e.ID, e.ObligationID, e.FranchiseID, e.UnitID, e.Type, e.Amount.String(),
		e.Method, e.Reference, nullString(e.IdempotencyKey), formatTime(e.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return billing.ErrDuplicateIdempotencyKey
		}
		return errors.Wrap(err, "failed to append ledger entry")
	}
	return nil
}

func ledgerEntries(ctx context.Context, q querier, id billing.ObligationID) ([]billing.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, obligation_id, franchise_id, unit_id, entry_type, amount, method, reference, idempotency_key, created_at
		FROM ledger_entries
		WHERE obligation_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query ledger")
	}
	defer rows.Close()

	var entries []billing.LedgerEntry
	for rows.Next() {
		var e billing.LedgerEntry
		var amount, createdAt string
		var key sql.NullString
		if err := rows.Scan(&e.ID, &e.ObligationID, &e.FranchiseID, &e.UnitID, &e.Type, &amount,
			&e.Method, &e.Reference, &key, &createdAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan ledger entry")
		}
		var p columnParser
		e.Amount = p.decimal("amount", amount)
		e.IdempotencyKey = key.String
		e.CreatedAt = p.time("created_at", createdAt)
		if p.err != nil {
			return nil, errors.Wrapf(p.err, "ledger entry %s", e.ID)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
