package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/franchise-billing/billing"
)

// =============================================================================
// FRANCHISE STORE
// =============================================================================

// SaveFranchise upserts a franchise configuration.
func (s *Store) SaveFranchise(ctx context.Context, f billing.FranchiseConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := formatTime(time.Now())
	query := `
		INSERT INTO franchises (id, name, franchisee_id, royalty_pct, marketing_pct, technology_fee,
			frequency, late_fee_rate, grace_period_days, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			franchisee_id = excluded.franchisee_id,
			royalty_pct = excluded.royalty_pct,
			marketing_pct = excluded.marketing_pct,
			technology_fee = excluded.technology_fee,
			frequency = excluded.frequency,
			late_fee_rate = excluded.late_fee_rate,
			grace_period_days = excluded.grace_period_days,
			active = excluded.active,
			updated_at = excluded.updated_at
	`
	var grace sql.NullInt64
	if f.GracePeriodDays != nil {
		grace = sql.NullInt64{Int64: int64(*f.GracePeriodDays), Valid: true}
	}
	freq := f.Frequency
	if freq == "" {
		freq = billing.FrequencyMonthly
	}
	_, err := s.db.ExecContext(ctx, query,
		f.FranchiseID, f.Name, f.FranchiseeID,
		nullDecimal(f.RoyaltyPct), nullDecimal(f.MarketingPct), nullDecimal(f.TechnologyFee),
		freq, nullDecimal(f.LateFeeRate), grace, boolInt(f.Active), now, now,
	)
	return errors.Wrap(err, "failed to save franchise")
}

// GetFranchise returns a franchise configuration or billing.ErrNotFound.
func (s *Store) GetFranchise(ctx context.Context, id billing.FranchiseID) (*billing.FranchiseConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getFranchise(ctx, s.db, id)
}

// ListFranchises returns all franchises ordered by ID.
func (s *Store) ListFranchises(ctx context.Context) ([]billing.FranchiseConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+franchiseColumns+" FROM franchises ORDER BY id")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list franchises")
	}
	defer rows.Close()

	var out []billing.FranchiseConfig
	for rows.Next() {
		f, err := scanFranchise(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

const franchiseColumns = `id, name, franchisee_id, royalty_pct, marketing_pct, technology_fee,
	frequency, late_fee_rate, grace_period_days, active`

type scanner interface {
	Scan(dest ...any) error
}

func scanFranchise(row scanner) (billing.FranchiseConfig, error) {
	var f billing.FranchiseConfig
	var royalty, marketing, tech, lateRate decimal.NullDecimal
	var grace sql.NullInt64
	var active int
	if err := row.Scan(&f.FranchiseID, &f.Name, &f.FranchiseeID, &royalty, &marketing, &tech,
		&f.Frequency, &lateRate, &grace, &active); err != nil {
		return f, err
	}
	f.RoyaltyPct = decimalPtr(royalty)
	f.MarketingPct = decimalPtr(marketing)
	f.TechnologyFee = decimalPtr(tech)
	f.LateFeeRate = decimalPtr(lateRate)
	if grace.Valid {
		g := int(grace.Int64)
		f.GracePeriodDays = &g
	}
	f.Active = active == 1
	return f, nil
}

func getFranchise(ctx context.Context, q querier, id billing.FranchiseID) (*billing.FranchiseConfig, error) {
	row := q.QueryRowContext(ctx, "SELECT "+franchiseColumns+" FROM franchises WHERE id = ?", id)
	f, err := scanFranchise(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, billing.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get franchise")
	}
	return &f, nil
}

// =============================================================================
// UNIT STORE
// =============================================================================

// SaveUnit upserts a unit. The franchise must exist.
func (s *Store) SaveUnit(ctx context.Context, u billing.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := getFranchise(ctx, s.db, u.FranchiseID); err != nil {
		return err
	}
	query := `
		INSERT INTO units (id, franchise_id, name, owner_id, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			owner_id = excluded.owner_id,
			active = excluded.active
	`
	_, err := s.db.ExecContext(ctx, query, u.ID, u.FranchiseID, u.Name, u.OwnerID, boolInt(u.Active), formatTime(time.Now()))
	return errors.Wrap(err, "failed to save unit")
}

// ListUnits returns the units of a franchise.
func (s *Store) ListUnits(ctx context.Context, franchiseID billing.FranchiseID) ([]billing.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listUnits(ctx, s.db, franchiseID)
}

func listUnits(ctx context.Context, q querier, franchiseID billing.FranchiseID) ([]billing.Unit, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, franchise_id, name, owner_id, active FROM units WHERE franchise_id = ? ORDER BY id",
		franchiseID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list units")
	}
	defer rows.Close()

	var units []billing.Unit
	for rows.Next() {
		var u billing.Unit
		var active int
		if err := rows.Scan(&u.ID, &u.FranchiseID, &u.Name, &u.OwnerID, &active); err != nil {
			return nil, err
		}
		u.Active = active == 1
		units = append(units, u)
	}
	return units, rows.Err()
}

// =============================================================================
// REVENUE STORE
// =============================================================================

// RecordRevenue stores a gross revenue entry.
func (s *Store) RecordRevenue(ctx context.Context, e billing.RevenueEntry) (billing.RevenueEntry, error) {
	if err := e.Validate(); err != nil {
		return e, err
	}
	if e.ID == "" {
		e.ID = "rev_" + uuid.NewString()
	}
	e.Day = billing.DateOf(e.Day)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revenue_entries (id, franchise_id, unit_id, day, amount, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Scope.FranchiseID, e.Scope.UnitID, formatDate(e.Day), e.Amount.String(), e.Source, formatTime(time.Now()))
	if err != nil {
		return e, errors.Wrap(err, "failed to record revenue")
	}
	return e, nil
}

// =============================================================================
// PROVIDERS (billing.ConfigProvider, billing.RevenueProvider)
// =============================================================================

// ActiveScopes returns one scope per active unit of each active franchise,
// or a franchise-level scope when the franchise has no units.
func (s *Store) ActiveScopes(ctx context.Context) ([]billing.Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, COALESCE(u.id, '')
		FROM franchises f
		LEFT JOIN units u ON u.franchise_id = f.id
		WHERE f.active = 1
		  AND (u.id IS NULL OR u.active = 1)
		  AND (u.id IS NOT NULL OR NOT EXISTS (SELECT 1 FROM units x WHERE x.franchise_id = f.id))
		ORDER BY f.id, u.id
	`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list scopes")
	}
	defer rows.Close()

	var scopes []billing.Scope
	for rows.Next() {
		var sc billing.Scope
		if err := rows.Scan(&sc.FranchiseID, &sc.UnitID); err != nil {
			return nil, err
		}
		scopes = append(scopes, sc)
	}
	return scopes, rows.Err()
}

func (s *Store) ScopeConfig(ctx context.Context, scope billing.Scope) (billing.ScopeConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := getFranchise(ctx, s.db, scope.FranchiseID)
	if err != nil {
		return billing.ScopeConfig{}, err
	}
	var unit *billing.Unit
	if scope.UnitID != "" {
		var u billing.Unit
		var active int
		err := s.db.QueryRowContext(ctx,
			"SELECT id, franchise_id, name, owner_id, active FROM units WHERE id = ? AND franchise_id = ?",
			scope.UnitID, scope.FranchiseID,
		).Scan(&u.ID, &u.FranchiseID, &u.Name, &u.OwnerID, &active)
		if errors.Is(err, sql.ErrNoRows) {
			return billing.ScopeConfig{}, billing.ErrNotFound
		}
		if err != nil {
			return billing.ScopeConfig{}, errors.Wrap(err, "failed to get unit")
		}
		u.Active = active == 1
		unit = &u
	}
	return billing.ScopeConfig{Scope: scope, Franchise: *f, PartyID: billing.PartyFor(*f, unit)}, nil
}

// GrossRevenue sums the scope's revenue entries within the period.
func (s *Store) GrossRevenue(ctx context.Context, scope billing.Scope, period billing.Period) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT amount FROM revenue_entries
		WHERE franchise_id = ? AND unit_id = ? AND day >= ? AND day <= ?
	`, scope.FranchiseID, scope.UnitID, formatDate(period.Start), formatDate(period.End))
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "failed to query revenue")
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, err
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return decimal.Zero, errors.Wrapf(err, "corrupt revenue amount %q", amount)
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func decimalPtr(nd decimal.NullDecimal) *decimal.Decimal {
	if !nd.Valid {
		return nil
	}
	d := nd.Decimal
	return &d
}
