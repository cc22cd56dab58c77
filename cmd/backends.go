package cmd

import (
	"context"
	"fmt"

	"github.com/kozaktomas/gate-attendance/internal/config"
	"github.com/kozaktomas/gate-attendance/internal/database"
	"github.com/kozaktomas/gate-attendance/internal/database/mariadb"
	"github.com/kozaktomas/gate-attendance/internal/database/postgres"
)

// stores bundles the repositories shared by the commands.
type stores struct {
	pool       *postgres.Pool
	records    *mariadb.Pool // nil unless REGISTRY_DATABASE_DSN is set
	registry   database.Registry
	roster     *postgres.RegistryRepository
	attendance *postgres.AttendanceRepository
	settings   *postgres.SettingsRepository
}

// openStores connects to PostgreSQL (applying migrations) and, when configured, to the
// school-records MariaDB database that then serves the roster and guardians.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	fmt.Printf("Connecting to PostgreSQL database...\n")
	pool, err := postgres.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}

	s := &stores{
		pool:       pool,
		roster:     postgres.NewRegistryRepository(pool),
		attendance: postgres.NewAttendanceRepository(pool),
		settings:   postgres.NewSettingsRepository(pool),
	}
	s.registry = s.roster

	if cfg.Registry.DSN != "" {
		fmt.Printf("Connecting to school records database...\n")
		records, err := mariadb.NewPool(cfg.Registry.DSN)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to connect to school records: %w", err)
		}
		s.records = records
		s.registry = records
		fmt.Printf("Using school records database for roster and guardians\n")
	} else {
		fmt.Printf("Using PostgreSQL for roster and guardians\n")
	}
	return s, nil
}

func (s *stores) Close() {
	if s.records != nil {
		if err := s.records.Close(); err != nil {
			fmt.Printf("Warning: %v\n", err)
		}
	}
	if err := s.pool.Close(); err != nil {
		fmt.Printf("Warning: %v\n", err)
	}
}
