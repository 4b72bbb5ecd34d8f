package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/webcleaner/dbopen"
)

// Effect kinds stored in rules.kind.
const (
	KindBlur    = "blur"
	KindEnlarge = "enlarge"
)

func statKey(kind string) string {
	if kind == KindEnlarge {
		return "total_enlarged"
	}
	return "total_blurred"
}

func checkKind(kind string) error {
	if kind != KindBlur && kind != KindEnlarge {
		return fmt.Errorf("store: unknown kind %q", kind)
	}
	return nil
}

// LoadRules returns the ordered rule set of (origin, kind). An unknown
// origin yields an empty set.
func (s *Store) LoadRules(ctx context.Context, origin, kind string) ([]string, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT selector FROM rules WHERE origin = ? AND kind = ? ORDER BY position, created_at`,
		origin, kind)
	if err != nil {
		return nil, fmt.Errorf("store: load rules: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sel string
		if err := rows.Scan(&sel); err != nil {
			return nil, fmt.Errorf("store: scan rule: %w", err)
		}
		out = append(out, sel)
	}
	return out, rows.Err()
}

// SaveRules replaces the rule set of (origin, kind) in one transaction.
// Selectors that were not stored before count towards the kind's total.
func (s *Store) SaveRules(ctx context.Context, origin, kind string, rules []string) error {
	if err := checkKind(kind); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		existing := make(map[string]int64)
		rows, err := tx.QueryContext(ctx,
			`SELECT selector, created_at FROM rules WHERE origin = ? AND kind = ?`, origin, kind)
		if err != nil {
			return fmt.Errorf("store: save rules: %w", err)
		}
		for rows.Next() {
			var sel string
			var created int64
			if err := rows.Scan(&sel, &created); err != nil {
				rows.Close()
				return fmt.Errorf("store: save rules: %w", err)
			}
			existing[sel] = created
		}
		rows.Close()

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM rules WHERE origin = ? AND kind = ?`, origin, kind); err != nil {
			return fmt.Errorf("store: save rules: %w", err)
		}

		added := 0
		seen := make(map[string]bool, len(rules))
		for i, sel := range rules {
			if seen[sel] {
				continue
			}
			seen[sel] = true
			created, ok := existing[sel]
			if !ok {
				created = now
				added++
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO rules (origin, kind, selector, position, created_at) VALUES (?, ?, ?, ?, ?)`,
				origin, kind, sel, i, created); err != nil {
				return fmt.Errorf("store: insert rule: %w", err)
			}
		}
		if added > 0 {
			return incrementStat(ctx, tx, statKey(kind), int64(added))
		}
		return nil
	})
}

// AddRule appends sel to (origin, kind) unless already present. It reports
// whether a row was added.
func (s *Store) AddRule(ctx context.Context, origin, kind, sel string) (bool, error) {
	if err := checkKind(kind); err != nil {
		return false, err
	}
	var added bool
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO rules (origin, kind, selector, position, created_at)
			VALUES (?, ?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM rules WHERE origin = ? AND kind = ?), ?)`,
			origin, kind, sel, origin, kind, time.Now().UnixMilli())
		if err != nil {
			return fmt.Errorf("store: add rule: %w", err)
		}
		n, _ := res.RowsAffected()
		added = n > 0
		if added {
			return incrementStat(ctx, tx, statKey(kind), 1)
		}
		return nil
	})
	return added, err
}

// RemoveRule deletes one selector. Removing a missing selector is not an
// error.
func (s *Store) RemoveRule(ctx context.Context, origin, kind, sel string) error {
	_, err := s.DB.ExecContext(ctx,
		`DELETE FROM rules WHERE origin = ? AND kind = ? AND selector = ?`, origin, kind, sel)
	if err != nil {
		return fmt.Errorf("store: remove rule: %w", err)
	}
	return nil
}

// ResetOrigin deletes every rule of origin, all kinds, and its modes.
func (s *Store) ResetOrigin(ctx context.Context, origin string) error {
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM rules WHERE origin = ?`, origin); err != nil {
			return fmt.Errorf("store: reset origin: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE sites SET edit_mode = 0, enlarge_mode = 0, updated_at = ? WHERE origin = ?`,
			time.Now().UnixMilli(), origin); err != nil {
			return fmt.Errorf("store: reset origin: %w", err)
		}
		return nil
	})
}

// ResetAll deletes every rule and site flag. Counters survive.
func (s *Store) ResetAll(ctx context.Context) error {
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		for _, q := range []string{`DELETE FROM rules`, `DELETE FROM sites`} {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return fmt.Errorf("store: reset all: %w", err)
			}
		}
		return nil
	})
}

// OriginSummary is one row of ListOrigins.
type OriginSummary struct {
	Origin   string `json:"origin"`
	Blur     int    `json:"blur"`
	Enlarge  int    `json:"enlarge"`
	Disabled bool   `json:"disabled"`
}

// ListOrigins lists every origin that has rules or flags, sorted.
func (s *Store) ListOrigins(ctx context.Context) ([]OriginSummary, error) {
	rows, err := s.DB.QueryContext(ctx, `
		WITH o AS (SELECT origin FROM rules UNION SELECT origin FROM sites)
		SELECT o.origin,
		       (SELECT COUNT(*) FROM rules r WHERE r.origin = o.origin AND r.kind = 'blur'),
		       (SELECT COUNT(*) FROM rules r WHERE r.origin = o.origin AND r.kind = 'enlarge'),
		       COALESCE((SELECT disabled FROM sites s WHERE s.origin = o.origin), 0)
		FROM o ORDER BY o.origin`)
	if err != nil {
		return nil, fmt.Errorf("store: list origins: %w", err)
	}
	defer rows.Close()

	var out []OriginSummary
	for rows.Next() {
		var o OriginSummary
		var disabled int
		if err := rows.Scan(&o.Origin, &o.Blur, &o.Enlarge, &disabled); err != nil {
			return nil, fmt.Errorf("store: scan origin: %w", err)
		}
		o.Disabled = disabled != 0
		out = append(out, o)
	}
	return out, rows.Err()
}

// RuleView binds the store to one effect kind. It satisfies the rule store
// contract the reconciler consumes.
type RuleView struct {
	s    *Store
	kind string
}

// Rules returns the view for kind.
func (s *Store) Rules(kind string) *RuleView {
	return &RuleView{s: s, kind: kind}
}

func (v *RuleView) Kind() string { return v.kind }

func (v *RuleView) Load(ctx context.Context, origin string) ([]string, error) {
	return v.s.LoadRules(ctx, origin, v.kind)
}

func (v *RuleView) Save(ctx context.Context, origin string, rules []string) error {
	return v.s.SaveRules(ctx, origin, v.kind, rules)
}

func (v *RuleView) RemoveOne(ctx context.Context, origin, sel string) error {
	return v.s.RemoveRule(ctx, origin, v.kind, sel)
}

func (v *RuleView) IsDisabled(ctx context.Context, origin string) (bool, error) {
	return v.s.IsDisabled(ctx, origin)
}
