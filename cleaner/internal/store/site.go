package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Modes persisted per origin so a reload resumes the interaction mode.
const (
	ModeEdit    = "edit"
	ModeEnlarge = "enlarge"
)

// Site holds the per-origin flags.
type Site struct {
	Origin      string `json:"origin"`
	Disabled    bool   `json:"disabled"`
	EditMode    bool   `json:"edit_mode"`
	EnlargeMode bool   `json:"enlarge_mode"`
	UpdatedAt   int64  `json:"updated_at"`
}

// GetSite returns the flags of origin; an unknown origin yields zero flags.
func (s *Store) GetSite(ctx context.Context, origin string) (*Site, error) {
	site := &Site{Origin: origin}
	var disabled, edit, enlarge int
	err := s.DB.QueryRowContext(ctx,
		`SELECT disabled, edit_mode, enlarge_mode, updated_at FROM sites WHERE origin = ?`, origin).
		Scan(&disabled, &edit, &enlarge, &site.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return site, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get site: %w", err)
	}
	site.Disabled = disabled != 0
	site.EditMode = edit != 0
	site.EnlargeMode = enlarge != 0
	return site, nil
}

// IsDisabled reports whether cleaning is turned off for origin.
func (s *Store) IsDisabled(ctx context.Context, origin string) (bool, error) {
	site, err := s.GetSite(ctx, origin)
	if err != nil {
		return false, err
	}
	return site.Disabled, nil
}

// SetDisabled turns cleaning off or on for origin.
func (s *Store) SetDisabled(ctx context.Context, origin string, disabled bool) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO sites (origin, disabled, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(origin) DO UPDATE SET disabled = excluded.disabled, updated_at = excluded.updated_at`,
		origin, boolInt(disabled), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: set disabled: %w", err)
	}
	return nil
}

// SetMode records whether mode is on for origin. Edit and enlarge exclude
// each other: turning one on turns the other off.
func (s *Store) SetMode(ctx context.Context, origin, mode string, on bool) error {
	var edit, enlarge int
	switch mode {
	case ModeEdit:
		edit = boolInt(on)
	case ModeEnlarge:
		enlarge = boolInt(on)
	default:
		return fmt.Errorf("store: unknown mode %q", mode)
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO sites (origin, edit_mode, enlarge_mode, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(origin) DO UPDATE SET
			edit_mode = excluded.edit_mode,
			enlarge_mode = excluded.enlarge_mode,
			updated_at = excluded.updated_at`,
		origin, edit, enlarge, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: set mode: %w", err)
	}
	return nil
}

// GetMode returns the active persisted mode of origin, or "".
func (s *Store) GetMode(ctx context.Context, origin string) (string, error) {
	site, err := s.GetSite(ctx, origin)
	if err != nil {
		return "", err
	}
	switch {
	case site.EditMode:
		return ModeEdit, nil
	case site.EnlargeMode:
		return ModeEnlarge, nil
	}
	return "", nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
