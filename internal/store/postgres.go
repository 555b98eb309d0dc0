package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/betcaps/market-engine/internal/amount"
	"github.com/betcaps/market-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, statement, deadline, status, pool_yes, pool_no, fee_bps, version, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8, $9)`,
		m.ID, m.Statement, m.Deadline, m.Status,
		m.YesPool.String(), m.NoPool.String(),
		int32(m.FeeBps), int64(m.Version), m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create market %s: %w", m.ID, err)
	}
	return nil
}

const marketColumns = `id, statement, deadline, status,
	pool_yes::TEXT, pool_no::TEXT,
	fee_bps, version, created_at, resolved_at`

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var poolYes, poolNo string
	var feeBps int32
	var version int64

	err := row.Scan(&m.ID, &m.Statement, &m.Deadline, &m.Status,
		&poolYes, &poolNo,
		&feeBps, &version, &m.CreatedAt, &m.ResolvedAt)
	if err != nil {
		return nil, err
	}

	m.FeeBps = uint16(feeBps)
	m.Version = uint64(version)
	if m.YesPool, err = amount.Parse(poolYes); err != nil {
		return nil, err
	}
	if m.NoPool, err = amount.Parse(poolNo); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id)

	m, err := scanMarket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMarketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

// CommitBet writes the new pool state and the position in one transaction.
// The UPDATE is version-guarded so concurrent engine instances cannot
// both commit against the same snapshot.
func (s *PostgresStore) CommitBet(ctx context.Context, m *model.Market, pos *model.Position) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE markets
		 SET pool_yes = $2::NUMERIC, pool_no = $3::NUMERIC, version = $4
		 WHERE id = $1 AND version = $5`,
		m.ID, m.YesPool.String(), m.NoPool.String(),
		int64(m.Version), int64(m.Version-1),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO positions (id, owner_id, market_id, side, staked, shares, idempotency_key, claimed, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, NULLIF($7, ''), $8, $9)`,
		pos.ID, pos.OwnerID, pos.MarketID, pos.Side,
		pos.Staked.String(), pos.Shares.String(),
		pos.IdempotencyKey, pos.Claimed, pos.CreatedAt,
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) UpdateMarket(ctx context.Context, m *model.Market) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets
		 SET status = $2, pool_yes = $3::NUMERIC, pool_no = $4::NUMERIC,
		     version = $5, resolved_at = $6
		 WHERE id = $1 AND version = $7`,
		m.ID, m.Status, m.YesPool.String(), m.NoPool.String(),
		int64(m.Version), m.ResolvedAt, int64(m.Version-1),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

const positionColumns = `id, owner_id, market_id, side,
	staked::TEXT, shares::TEXT,
	COALESCE(idempotency_key, ''), claimed, created_at`

func (s *PostgresStore) GetPositionByKey(ctx context.Context, marketID, idempotencyKey string) (*model.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE market_id = $1 AND idempotency_key = $2`, marketID, idempotencyKey)

	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPositionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position by key: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) GetPositions(ctx context.Context, marketID, ownerID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE market_id = $1 AND owner_id = $2 ORDER BY created_at`, marketID, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) GetPositionsByOwner(ctx context.Context, ownerID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) GetPositionsByMarket(ctx context.Context, marketID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE market_id = $1 ORDER BY created_at`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) MarkClaimed(ctx context.Context, _ string, positionIDs []string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE positions SET claimed = TRUE WHERE id = ANY($1)`, positionIDs)
	return err
}

func (s *PostgresStore) GetOwnerOpenStakes(ctx context.Context, ownerID string) (map[string]amount.Amount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.market_id, COALESCE(SUM(p.staked), 0)::TEXT
		 FROM positions p
		 JOIN markets m ON m.id = p.market_id
		 WHERE p.owner_id = $1 AND p.claimed = FALSE
		   AND m.status IN ('open', 'closed')
		 GROUP BY p.market_id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stakes := make(map[string]amount.Amount)
	for rows.Next() {
		var marketID, stakedS string
		if err := rows.Scan(&marketID, &stakedS); err != nil {
			return nil, err
		}
		staked, err := amount.Parse(stakedS)
		if err != nil {
			return nil, err
		}
		stakes[marketID] = staked
	}
	return stakes, rows.Err()
}

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var stakedS, sharesS string

	if err := row.Scan(&p.ID, &p.OwnerID, &p.MarketID, &p.Side,
		&stakedS, &sharesS,
		&p.IdempotencyKey, &p.Claimed, &p.CreatedAt); err != nil {
		return nil, err
	}

	var err error
	if p.Staked, err = amount.Parse(stakedS); err != nil {
		return nil, err
	}
	if p.Shares, err = amount.Parse(sharesS); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPositions(rows pgx.Rows) ([]model.Position, error) {
	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}
