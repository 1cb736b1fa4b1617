package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"

	"github.com/meridianfi/rlm/internal/types"
)

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Token amounts are stored as NUMERIC and round-tripped through their string
// representation to keep sdkmath.Int precision exact.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the connection pool and verifies connectivity.
func NewPostgresStore(cfg DBConfig) (*PostgresStore, error) {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", psqlInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return &PostgresStore{db: db}, nil
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func (s *PostgresStore) EnsureSchema() error {
	schemaSQL := `
		CREATE TABLE IF NOT EXISTS positions (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL DEFAULT '',
			pool_id BIGINT NOT NULL,
			tick_lower INTEGER NOT NULL,
			tick_upper INTEGER NOT NULL,
			denom0 TEXT NOT NULL,
			denom1 TEXT NOT NULL,
			reserve0 NUMERIC(40, 0) NOT NULL,
			reserve1 NUMERIC(40, 0) NOT NULL,
			yield0 NUMERIC(40, 0) NOT NULL,
			yield1 NUMERIC(40, 0) NOT NULL,
			total_liquidity NUMERIC(40, 0) NOT NULL,
			reserve_percent SMALLINT NOT NULL DEFAULT 0,
			state VARCHAR(16) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT chk_tick_bounds CHECK (tick_lower < tick_upper)
		);
		CREATE INDEX IF NOT EXISTS idx_positions_pool ON positions(pool_id);
		CREATE INDEX IF NOT EXISTS idx_positions_state ON positions(state);

		CREATE TABLE IF NOT EXISTS stuck_positions (
			position_id TEXT PRIMARY KEY REFERENCES positions(id) ON DELETE CASCADE,
			enqueued_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS venue_totals (
			denom TEXT PRIMARY KEY,
			total NUMERIC(40, 0) NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// Ping tests if the database connection is healthy.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

const positionColumns = `id, owner, pool_id, tick_lower, tick_upper, denom0, denom1,
	reserve0::TEXT, reserve1::TEXT, yield0::TEXT, yield1::TEXT, total_liquidity::TEXT,
	reserve_percent, state, created_at, updated_at`

func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*types.Position, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = $1`, id)
	pos, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrPositionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position %s: %w", id, err)
	}
	return pos, nil
}

func (s *PostgresStore) PutPosition(ctx context.Context, pos *types.Position) error {
	_, err := s.db.ExecContext(ctx, upsertPositionSQL,
		pos.ID, pos.Owner, int64(pos.PoolID), pos.TickLower, pos.TickUpper,
		pos.Denom0, pos.Denom1,
		pos.Reserve0.String(), pos.Reserve1.String(),
		pos.Yield0.String(), pos.Yield1.String(),
		pos.TotalLiquidity.String(), pos.ReservePercent, string(pos.State),
		pos.CreatedAt, pos.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert position %s: %w", pos.ID, err)
	}
	return nil
}

const upsertPositionSQL = `
	INSERT INTO positions (
		id, owner, pool_id, tick_lower, tick_upper, denom0, denom1,
		reserve0, reserve1, yield0, yield1, total_liquidity,
		reserve_percent, state, created_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7,
		$8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12::NUMERIC,
		$13, $14, $15, $16
	)
	ON CONFLICT (id) DO UPDATE SET
		owner = EXCLUDED.owner,
		reserve0 = EXCLUDED.reserve0, reserve1 = EXCLUDED.reserve1,
		yield0 = EXCLUDED.yield0, yield1 = EXCLUDED.yield1,
		total_liquidity = EXCLUDED.total_liquidity,
		reserve_percent = EXCLUDED.reserve_percent,
		state = EXCLUDED.state,
		updated_at = EXCLUDED.updated_at;`

func (s *PostgresStore) DeletePosition(ctx context.Context, id string) error {
	// stuck_positions rows go with the position via ON DELETE CASCADE.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete position %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) ListPositions(ctx context.Context) ([]types.Position, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+positionColumns+` FROM positions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	defer rows.Close()

	var out []types.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position row: %w", err)
		}
		out = append(out, *pos)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ApplyRebalance(ctx context.Context, pos *types.Position, totalDeltas map[string]sdkmath.Int) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // Re-panic after rollback
		} else if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, upsertPositionSQL,
		pos.ID, pos.Owner, int64(pos.PoolID), pos.TickLower, pos.TickUpper,
		pos.Denom0, pos.Denom1,
		pos.Reserve0.String(), pos.Reserve1.String(),
		pos.Yield0.String(), pos.Yield1.String(),
		pos.TotalLiquidity.String(), pos.ReservePercent, string(pos.State),
		pos.CreatedAt, pos.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert position %s: %w", pos.ID, err)
	}

	for denom, delta := range totalDeltas {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO venue_totals (denom, total, updated_at)
			VALUES ($1, GREATEST($2::NUMERIC, 0), CURRENT_TIMESTAMP)
			ON CONFLICT (denom) DO UPDATE SET
				total = GREATEST(venue_totals.total + $2::NUMERIC, 0),
				updated_at = CURRENT_TIMESTAMP;`,
			denom, delta.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to adjust venue total for %s: %w", denom, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) EnqueueStuck(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stuck_positions (position_id) VALUES ($1)
		ON CONFLICT (position_id) DO NOTHING`, id)
	if err != nil {
		return fmt.Errorf("failed to enqueue stuck position %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) RemoveStuck(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM stuck_positions WHERE position_id = $1`, id); err != nil {
		return fmt.Errorf("failed to remove stuck position %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) ListStuck(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT position_id FROM stuck_positions ORDER BY enqueued_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck positions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) VenueTotal(ctx context.Context, denom string) (sdkmath.Int, error) {
	var totalStr string
	err := s.db.QueryRowContext(ctx, `SELECT total::TEXT FROM venue_totals WHERE denom = $1`, denom).Scan(&totalStr)
	if errors.Is(err, sql.ErrNoRows) {
		return sdkmath.ZeroInt(), nil
	}
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("failed to get venue total for %s: %w", denom, err)
	}
	total, ok := sdkmath.NewIntFromString(totalStr)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("invalid venue total for %s: %s", denom, totalStr)
	}
	return total, nil
}

func (s *PostgresStore) Close() error {
	log.Info().Msg("Closing database connection...")
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (*types.Position, error) {
	var (
		pos                                             types.Position
		poolID                                          int64
		reserve0, reserve1, yield0, yield1, totalLiquid string
		state                                           string
	)
	err := row.Scan(
		&pos.ID, &pos.Owner, &poolID, &pos.TickLower, &pos.TickUpper,
		&pos.Denom0, &pos.Denom1,
		&reserve0, &reserve1, &yield0, &yield1, &totalLiquid,
		&pos.ReservePercent, &state, &pos.CreatedAt, &pos.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	pos.PoolID = types.PoolID(poolID)
	pos.State = types.PositionState(state)
	for _, f := range []struct {
		dst *sdkmath.Int
		src string
	}{
		{&pos.Reserve0, reserve0}, {&pos.Reserve1, reserve1},
		{&pos.Yield0, yield0}, {&pos.Yield1, yield1},
		{&pos.TotalLiquidity, totalLiquid},
	} {
		v, ok := sdkmath.NewIntFromString(f.src)
		if !ok {
			return nil, fmt.Errorf("invalid numeric value %q for position %s", f.src, pos.ID)
		}
		*f.dst = v
	}
	return &pos, nil
}
