package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/IntakeDeskAI/ForecastHer-sub001/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision
// and scanned as text into decimal.Decimal.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const marketColumns = `id, ticker, category, question,
       q_yes::TEXT, q_no::TEXT, b::TEXT,
       price_yes::TEXT, price_no::TEXT,
       status, resolution, volume::TEXT, version, created_at, closes_at`

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var qYes, qNo, b, priceYes, priceNo, volume string

	err := row.Scan(&m.ID, &m.Ticker, &m.Category, &m.Question,
		&qYes, &qNo, &b,
		&priceYes, &priceNo,
		&m.Status, &m.Resolution, &volume, &m.Version, &m.CreatedAt, &m.ClosesAt)
	if err != nil {
		return nil, err
	}

	m.QYes, _ = decimal.NewFromString(qYes)
	m.QNo, _ = decimal.NewFromString(qNo)
	m.B, _ = decimal.NewFromString(b)
	m.PriceYes, _ = decimal.NewFromString(priceYes)
	m.PriceNo, _ = decimal.NewFromString(priceNo)
	m.Volume, _ = decimal.NewFromString(volume)

	return &m, nil
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, ticker, category, question, q_yes, q_no, b,
		                      price_yes, price_no, status, resolution, volume,
		                      version, created_at, closes_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC,
		         $8::NUMERIC, $9::NUMERIC, $10, $11, $12::NUMERIC, $13, $14, $15)`,
		m.ID, m.Ticker, m.Category, m.Question,
		m.QYes.String(), m.QNo.String(), m.B.String(),
		m.PriceYes.String(), m.PriceNo.String(),
		m.Status, m.Resolution, m.Volume.String(),
		m.Version, m.CreatedAt, m.ClosesAt,
	)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: ticker %s", ErrMarketExists, m.Ticker)
	}
	return err
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) GetMarketByTicker(ctx context.Context, ticker string) (*model.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE ticker = $1`, ticker))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: ticker %s", ErrMarketNotFound, ticker)
	}
	if err != nil {
		return nil, fmt.Errorf("get market by ticker %s: %w", ticker, err)
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

func (s *PostgresStore) CloseMarket(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET status = $2, version = version + 1
		 WHERE id = $1 AND status != $3`,
		id, model.StatusClosed, model.StatusResolved)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.notFoundOrResolved(ctx, id)
	}
	return nil
}

func (s *PostgresStore) MarkResolved(ctx context.Context, id, resolution string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET status = $2, resolution = $3, version = version + 1
		 WHERE id = $1 AND status != $2`,
		id, model.StatusResolved, resolution)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.notFoundOrResolved(ctx, id)
	}
	return nil
}

// notFoundOrResolved disambiguates a zero-row conditional update.
func (s *PostgresStore) notFoundOrResolved(ctx context.Context, id string) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM markets WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrMarketNotFound, id)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrMarketResolved, id)
}

// ApplyTrade commits market state, balance, position, and the trade record
// in one transaction. The version predicate detects concurrent writers; the
// conditional balance update enforces the non-negative cash floor even when
// trades on other markets race on the same user.
func (s *PostgresStore) ApplyTrade(ctx context.Context, app *TradeApplication) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	m := app.Market
	tag, err := tx.Exec(ctx,
		`UPDATE markets
		 SET q_yes = $2::NUMERIC, q_no = $3::NUMERIC,
		     price_yes = $4::NUMERIC, price_no = $5::NUMERIC,
		     volume = $6::NUMERIC, version = version + 1
		 WHERE id = $1 AND version = $7`,
		m.ID, m.QYes.String(), m.QNo.String(),
		m.PriceYes.String(), m.PriceNo.String(),
		m.Volume.String(), app.PriorVersion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: market %s version %d", ErrVersionConflict, m.ID, app.PriorVersion)
	}

	t := app.Trade
	if _, err := tx.Exec(ctx,
		`INSERT INTO balances (user_id, cash, updated_at)
		 VALUES ($1, $2::NUMERIC, $3)
		 ON CONFLICT (user_id) DO NOTHING`,
		t.UserID, model.InitialGrant.String(), t.CreatedAt); err != nil {
		return err
	}

	tag, err = tx.Exec(ctx,
		`UPDATE balances
		 SET cash = cash + $2::NUMERIC, updated_at = $3
		 WHERE user_id = $1 AND cash + $2::NUMERIC >= 0`,
		t.UserID, app.BalanceDelta.String(), t.CreatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s", ErrInsufficientFunds, t.UserID)
	}

	p := app.Position
	if _, err := tx.Exec(ctx,
		`INSERT INTO positions (user_id, market_id, ticker, category,
		                        yes_shares, no_shares, avg_yes_price, avg_no_price,
		                        settled, updated_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10)
		 ON CONFLICT (user_id, market_id) DO UPDATE
		 SET yes_shares = EXCLUDED.yes_shares, no_shares = EXCLUDED.no_shares,
		     avg_yes_price = EXCLUDED.avg_yes_price, avg_no_price = EXCLUDED.avg_no_price,
		     updated_at = EXCLUDED.updated_at`,
		p.UserID, p.MarketID, p.Ticker, p.Category,
		p.YesShares.String(), p.NoShares.String(),
		p.AvgYesPrice.String(), p.AvgNoPrice.String(),
		p.Settled, p.UpdatedAt,
	); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO trades (id, user_id, market_id, ticker, side, action,
		                     shares, price, cost, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10)`,
		t.ID, t.UserID, t.MarketID, t.Ticker, t.Side, t.Action,
		t.Shares.String(), t.Price.String(), t.Cost.String(), t.CreatedAt,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

const positionColumns = `user_id, market_id, ticker, category,
       yes_shares::TEXT, no_shares::TEXT,
       avg_yes_price::TEXT, avg_no_price::TEXT, settled, updated_at`

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var yes, no, avgYes, avgNo string

	err := row.Scan(&p.UserID, &p.MarketID, &p.Ticker, &p.Category,
		&yes, &no, &avgYes, &avgNo, &p.Settled, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.YesShares, _ = decimal.NewFromString(yes)
	p.NoShares, _ = decimal.NewFromString(no)
	p.AvgYesPrice, _ = decimal.NewFromString(avgYes)
	p.AvgNoPrice, _ = decimal.NewFromString(avgNo)

	return &p, nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, userID, marketID string) (*model.Position, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE user_id = $1 AND market_id = $2`, userID, marketID))
	if errors.Is(err, pgx.ErrNoRows) {
		return &model.Position{UserID: userID, MarketID: marketID}, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) GetUserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.user_id, p.market_id, p.ticker, p.category,
		        p.yes_shares::TEXT, p.no_shares::TEXT,
		        p.avg_yes_price::TEXT, p.avg_no_price::TEXT,
		        p.settled, p.updated_at,
		        m.price_yes::TEXT
		 FROM positions p
		 JOIN markets m ON m.id = p.market_id
		 WHERE p.user_id = $1
		 ORDER BY p.market_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	one := decimal.NewFromInt(1)
	var positions []model.Position

	for rows.Next() {
		var p model.Position
		var yes, no, avgYes, avgNo, priceYesS string

		if err := rows.Scan(&p.UserID, &p.MarketID, &p.Ticker, &p.Category,
			&yes, &no, &avgYes, &avgNo, &p.Settled, &p.UpdatedAt,
			&priceYesS); err != nil {
			return nil, err
		}

		p.YesShares, _ = decimal.NewFromString(yes)
		p.NoShares, _ = decimal.NewFromString(no)
		p.AvgYesPrice, _ = decimal.NewFromString(avgYes)
		p.AvgNoPrice, _ = decimal.NewFromString(avgNo)
		priceYes, _ := decimal.NewFromString(priceYesS)
		priceNo := one.Sub(priceYes)

		p.CurrentValue = priceYes.Mul(p.YesShares).Add(priceNo.Mul(p.NoShares))
		costBasis := p.AvgYesPrice.Mul(p.YesShares).Add(p.AvgNoPrice.Mul(p.NoShares))
		p.UnrealizedPnL = p.CurrentValue.Sub(costBasis)

		positions = append(positions, p)
	}

	return positions, rows.Err()
}

func (s *PostgresStore) ListUnsettledPositions(ctx context.Context, marketID string, limit int) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE market_id = $1 AND settled = FALSE
		 ORDER BY user_id
		 LIMIT $2`, marketID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

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

// SettlePositions applies one chunk of resolution payouts in a single
// transaction. The settled predicate makes a retried chunk a no-op.
func (s *PostgresStore) SettlePositions(ctx context.Context, credits []PayoutCredit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, c := range credits {
		tag, err := tx.Exec(ctx,
			`UPDATE positions SET settled = TRUE
			 WHERE user_id = $1 AND market_id = $2 AND settled = FALSE`,
			c.UserID, c.MarketID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			continue // already paid by an earlier attempt
		}
		if c.Amount.IsZero() {
			continue
		}
		if _, err := tx.Exec(ctx,
			`UPDATE balances SET cash = cash + $2::NUMERIC, updated_at = NOW()
			 WHERE user_id = $1`,
			c.UserID, c.Amount.String()); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetBalance(ctx context.Context, userID string) (*model.Balance, error) {
	var b model.Balance
	var cash string

	err := s.pool.QueryRow(ctx,
		`INSERT INTO balances (user_id, cash, updated_at)
		 VALUES ($1, $2::NUMERIC, NOW())
		 ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		 RETURNING user_id, cash::TEXT, updated_at`,
		userID, model.InitialGrant.String()).
		Scan(&b.UserID, &cash, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}

	b.Cash, _ = decimal.NewFromString(cash)
	return &b, nil
}

const tradeColumns = `id, user_id, market_id, ticker, side, action,
       shares::TEXT, price::TEXT, cost::TEXT, created_at`

func (s *PostgresStore) GetTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE market_id = $1 ORDER BY created_at`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) GetTradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func scanTrades(rows pgx.Rows) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var shares, price, cost string

		if err := rows.Scan(&t.ID, &t.UserID, &t.MarketID, &t.Ticker,
			&t.Side, &t.Action, &shares, &price, &cost, &t.CreatedAt); err != nil {
			return nil, err
		}

		t.Shares, _ = decimal.NewFromString(shares)
		t.Price, _ = decimal.NewFromString(price)
		t.Cost, _ = decimal.NewFromString(cost)

		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) GetUserCategoryExposures(ctx context.Context, userID string) (map[string]decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT category,
		        COALESCE(SUM(yes_shares - no_shares), 0)::TEXT AS net_exposure
		 FROM positions
		 WHERE user_id = $1
		 GROUP BY category`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	exposures := make(map[string]decimal.Decimal)
	for rows.Next() {
		var category, expStr string
		if err := rows.Scan(&category, &expStr); err != nil {
			return nil, err
		}
		exp, _ := decimal.NewFromString(expStr)
		exposures[category] = exp
	}

	return exposures, rows.Err()
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
