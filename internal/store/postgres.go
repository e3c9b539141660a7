// Package store — PostgreSQL Store implementation backed by pgx.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/modelrelay/modelrelay/pkg/models"
	"github.com/rs/zerolog/log"
)

// PostgresStore implements Store on a pgx connection pool.
// Records are stored as JSONB documents keyed by id, so writes are
// single-row replacements and readers never see a half-applied update.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and runs migrations.
func NewPostgresStore(ctx context.Context, connURL string, maxConns int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres parse config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Msg("PostgreSQL store initialized")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS mr_providers (
			id         TEXT PRIMARY KEY,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS mr_strategies (
			id         TEXT PRIMARY KEY,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS mr_org_policies (
			org_id     TEXT PRIMARY KEY,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// ── Catalog Store ────────────────────────────────────────────

func (s *PostgresStore) GetProvider(ctx context.Context, id string) (*models.ProviderDescriptor, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM mr_providers WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "provider", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get provider %s: %w", id, err)
	}

	var p models.ProviderDescriptor
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("decode provider %s: %w", id, err)
	}
	return &p, nil
}

func (s *PostgresStore) ListProviders(ctx context.Context) ([]models.ProviderDescriptor, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM mr_providers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	var out []models.ProviderDescriptor
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var p models.ProviderDescriptor
		if err := json.Unmarshal(doc, &p); err != nil {
			return nil, fmt.Errorf("decode provider: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) PutProvider(ctx context.Context, p *models.ProviderDescriptor) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode provider %s: %w", p.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO mr_providers (id, doc, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()
	`, p.ID, doc)
	return err
}

// ── Strategy Store ───────────────────────────────────────────

func (s *PostgresStore) GetStrategy(ctx context.Context, id string) (*models.FallbackStrategy, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM mr_strategies WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "strategy", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get strategy %s: %w", id, err)
	}

	var st models.FallbackStrategy
	if err := json.Unmarshal(doc, &st); err != nil {
		return nil, fmt.Errorf("decode strategy %s: %w", id, err)
	}
	return &st, nil
}

func (s *PostgresStore) ListStrategies(ctx context.Context) ([]models.FallbackStrategy, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM mr_strategies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list strategies: %w", err)
	}
	defer rows.Close()

	var out []models.FallbackStrategy
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var st models.FallbackStrategy
		if err := json.Unmarshal(doc, &st); err != nil {
			return nil, fmt.Errorf("decode strategy: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *PostgresStore) PutStrategy(ctx context.Context, st *models.FallbackStrategy) error {
	doc, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode strategy %s: %w", st.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO mr_strategies (id, doc, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()
	`, st.ID, doc)
	return err
}

// ── Policy Store ─────────────────────────────────────────────

func (s *PostgresStore) GetPolicy(ctx context.Context, orgID string) (*models.OrganizationPolicy, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM mr_org_policies WHERE org_id = $1`, orgID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "policy", Key: orgID}
	}
	if err != nil {
		return nil, fmt.Errorf("get policy %s: %w", orgID, err)
	}

	var p models.OrganizationPolicy
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("decode policy %s: %w", orgID, err)
	}
	return &p, nil
}

func (s *PostgresStore) PutPolicy(ctx context.Context, p *models.OrganizationPolicy) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode policy %s: %w", p.OrgID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO mr_org_policies (org_id, doc, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (org_id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()
	`, p.OrgID, doc)
	return err
}
