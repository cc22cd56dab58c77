package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/gate-attendance/internal/database"
)

// SettingsRepository reads the single-row gate configuration.
type SettingsRepository struct {
	pool *Pool
}

// NewSettingsRepository creates a new PostgreSQL settings repository
func NewSettingsRepository(pool *Pool) *SettingsRepository {
	return &SettingsRepository{pool: pool}
}

func parseOptionalClock(s sql.NullString) (*database.ClockTime, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	c, err := database.ParseClockTime(s.String)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func formatOptionalClock(c *database.ClockTime) any {
	if c == nil {
		return nil
	}
	return c.String()
}

// GetConfiguration returns the current gate configuration
func (r *SettingsRepository) GetConfiguration(ctx context.Context) (*database.GateConfiguration, error) {
	var cfg database.GateConfiguration
	var mode string
	var first, second sql.NullString
	err := r.pool.QueryRow(ctx, `
		SELECT mode, first_class_start::text, second_class_start::text,
		       grace_minutes, email_enabled, sms_enabled, updated_at
		FROM gate_settings
		WHERE id = 1
	`).Scan(&mode, &first, &second, &cfg.GraceMinutes, &cfg.EmailEnabled, &cfg.SMSEnabled, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.New("gate settings row missing")
	}
	if err != nil {
		return nil, fmt.Errorf("query gate settings: %w", err)
	}

	cfg.Mode = database.ParseGateMode(mode)
	if cfg.FirstClassStart, err = parseOptionalClock(first); err != nil {
		return nil, fmt.Errorf("first class start: %w", err)
	}
	if cfg.SecondClassStart, err = parseOptionalClock(second); err != nil {
		return nil, fmt.Errorf("second class start: %w", err)
	}
	return &cfg, nil
}

// SaveConfiguration overwrites the gate configuration
func (r *SettingsRepository) SaveConfiguration(ctx context.Context, cfg database.GateConfiguration) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO gate_settings (id, mode, first_class_start, second_class_start, grace_minutes, email_enabled, sms_enabled, updated_at)
		VALUES (1, $1, $2::time, $3::time, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			mode = EXCLUDED.mode,
			first_class_start = EXCLUDED.first_class_start,
			second_class_start = EXCLUDED.second_class_start,
			grace_minutes = EXCLUDED.grace_minutes,
			email_enabled = EXCLUDED.email_enabled,
			sms_enabled = EXCLUDED.sms_enabled,
			updated_at = NOW()
	`, string(cfg.Mode), formatOptionalClock(cfg.FirstClassStart), formatOptionalClock(cfg.SecondClassStart),
		cfg.GraceMinutes, cfg.EmailEnabled, cfg.SMSEnabled)
	return err
}
