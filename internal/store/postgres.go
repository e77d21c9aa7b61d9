package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tradevault/ledger/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision;
// addresses are stored as checksummed hex.
type PostgresStore struct {
	pool *pgxpool.Pool // nil inside a transaction
	db   dbtx
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, db: pool}
}

// Migrate creates the ledger tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if s.pool == nil {
		return fn(s)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&PostgresStore{db: tx})
	})
}

const vaultColumns = `id, address, owner, trader, asset,
	initial_amount::TEXT, current_balance::TEXT, status,
	start_time, end_time, total_returns::TEXT, created_at`

func (s *PostgresStore) CreateVault(ctx context.Context, v *model.Vault) error {
	count, err := s.CountVaults(ctx)
	if err != nil {
		return err
	}
	if v.ID != count {
		return fmt.Errorf("%w: vault %d (next id is %d)", ErrConflict, v.ID, count)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO vaults (id, address, owner, trader, asset, initial_amount, current_balance,
		                     status, start_time, end_time, total_returns, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8, $9, $10, $11::NUMERIC, $12)`,
		int64(v.ID), v.Address.Hex(), v.Owner.Hex(), v.Trader.Hex(), v.Asset.Hex(),
		v.InitialAmount.String(), v.CurrentBalance.String(),
		string(v.Status), nullTime(v.StartTime), nullTime(v.EndTime),
		v.TotalReturns.String(), v.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: vault %d", ErrConflict, v.ID)
	}
	return err
}

func (s *PostgresStore) GetVault(ctx context.Context, id uint64) (*model.Vault, error) {
	row := s.db.QueryRow(ctx, `SELECT `+vaultColumns+` FROM vaults WHERE id = $1`+s.lockClause(), int64(id))
	v, err := scanVault(row)
	if err != nil {
		return nil, fmt.Errorf("get vault %d: %w", id, err)
	}
	return v, nil
}

func (s *PostgresStore) GetVaultByAddress(ctx context.Context, addr common.Address) (*model.Vault, error) {
	row := s.db.QueryRow(ctx, `SELECT `+vaultColumns+` FROM vaults WHERE address = $1`+s.lockClause(), addr.Hex())
	v, err := scanVault(row)
	if err != nil {
		return nil, fmt.Errorf("get vault at %s: %w", addr.Hex(), err)
	}
	return v, nil
}

func (s *PostgresStore) UpdateVault(ctx context.Context, v *model.Vault) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE vaults
		 SET initial_amount = $2::NUMERIC, current_balance = $3::NUMERIC, status = $4,
		     start_time = $5, end_time = $6, total_returns = $7::NUMERIC
		 WHERE id = $1`,
		int64(v.ID), v.InitialAmount.String(), v.CurrentBalance.String(), string(v.Status),
		nullTime(v.StartTime), nullTime(v.EndTime), v.TotalReturns.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: vault %d", ErrNotFound, v.ID)
	}
	return nil
}

func (s *PostgresStore) CountVaults(ctx context.Context) (uint64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM vaults`).Scan(&n); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func (s *PostgresStore) CountVaultsByStatus(ctx context.Context, status model.VaultStatus) (uint64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM vaults WHERE status = $1`, string(status)).Scan(&n)
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func (s *PostgresStore) VaultIDsByOwner(ctx context.Context, owner common.Address) ([]uint64, error) {
	return s.vaultIDs(ctx, `SELECT id FROM vaults WHERE owner = $1 ORDER BY id`, owner)
}

func (s *PostgresStore) VaultIDsByTrader(ctx context.Context, trader common.Address) ([]uint64, error) {
	return s.vaultIDs(ctx, `SELECT id FROM vaults WHERE trader = $1 ORDER BY id`, trader)
}

// vaultIDs relies on ids being assigned monotonically, so id order is
// creation order.
func (s *PostgresStore) vaultIDs(ctx context.Context, query string, addr common.Address) ([]uint64, error) {
	rows, err := s.db.Query(ctx, query, addr.Hex())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []uint64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, uint64(id))
	}
	return ids, rows.Err()
}

func (s *PostgresStore) AppendTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO vault_trades (vault_id, id, is_buy, amount, price, timestamp)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6)`,
		int64(t.VaultID), int64(t.ID), t.IsBuy, t.Amount.String(), t.Price.String(), t.Timestamp,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: trade %d on vault %d", ErrConflict, t.ID, t.VaultID)
	}
	return err
}

func (s *PostgresStore) ListTrades(ctx context.Context, vaultID uint64) ([]model.Trade, error) {
	rows, err := s.db.Query(ctx,
		`SELECT vault_id, id, is_buy, amount::TEXT, price::TEXT, timestamp
		 FROM vault_trades WHERE vault_id = $1 ORDER BY id`, int64(vaultID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trades := []model.Trade{}
	for rows.Next() {
		var t model.Trade
		var vid, id int64
		var amountS, priceS string
		if err := rows.Scan(&vid, &id, &t.IsBuy, &amountS, &priceS, &t.Timestamp); err != nil {
			return nil, err
		}
		t.VaultID = uint64(vid)
		t.ID = uint64(id)
		t.Amount, _ = decimal.NewFromString(amountS)
		t.Price, _ = decimal.NewFromString(priceS)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) CountTrades(ctx context.Context, vaultID uint64) (uint64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM vault_trades WHERE vault_id = $1`, int64(vaultID)).Scan(&n)
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func (s *PostgresStore) CreateTrader(ctx context.Context, t *model.Trader) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO traders (address, reputation_score, total_vaults, completed_vaults,
		                      total_volume, average_returns, is_registered, registration_date)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8)`,
		t.Address.Hex(), int64(t.ReputationScore), int64(t.TotalVaults), int64(t.CompletedVaults),
		t.TotalVolume.String(), t.AverageReturns.String(), t.IsRegistered, t.RegistrationDate,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: trader %s", ErrConflict, t.Address.Hex())
	}
	return err
}

func (s *PostgresStore) GetTrader(ctx context.Context, addr common.Address) (*model.Trader, error) {
	var t model.Trader
	var addrS, volumeS, avgS string
	var score, total, completed int64

	err := s.db.QueryRow(ctx,
		`SELECT address, reputation_score, total_vaults, completed_vaults,
		        total_volume::TEXT, average_returns::TEXT, is_registered, registration_date
		 FROM traders WHERE address = $1`+s.lockClause(), addr.Hex()).
		Scan(&addrS, &score, &total, &completed, &volumeS, &avgS, &t.IsRegistered, &t.RegistrationDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: trader %s", ErrNotFound, addr.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("get trader %s: %w", addr.Hex(), err)
	}

	t.Address = common.HexToAddress(addrS)
	t.ReputationScore = uint64(score)
	t.TotalVaults = uint64(total)
	t.CompletedVaults = uint64(completed)
	t.TotalVolume, _ = decimal.NewFromString(volumeS)
	t.AverageReturns, _ = decimal.NewFromString(avgS)
	return &t, nil
}

func (s *PostgresStore) UpdateTrader(ctx context.Context, t *model.Trader) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE traders
		 SET reputation_score = $2, total_vaults = $3, completed_vaults = $4,
		     total_volume = $5::NUMERIC, average_returns = $6::NUMERIC
		 WHERE address = $1`,
		t.Address.Hex(), int64(t.ReputationScore), int64(t.TotalVaults), int64(t.CompletedVaults),
		t.TotalVolume.String(), t.AverageReturns.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: trader %s", ErrNotFound, t.Address.Hex())
	}
	return nil
}

// scanVault reads one vault row selected with vaultColumns.
func scanVault(row pgx.Row) (*model.Vault, error) {
	var v model.Vault
	var id int64
	var addrS, ownerS, traderS, assetS, status string
	var initialS, balanceS, returnsS string
	var start, end *time.Time

	err := row.Scan(&id, &addrS, &ownerS, &traderS, &assetS,
		&initialS, &balanceS, &status,
		&start, &end, &returnsS, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	v.ID = uint64(id)
	v.Address = common.HexToAddress(addrS)
	v.Owner = common.HexToAddress(ownerS)
	v.Trader = common.HexToAddress(traderS)
	v.Asset = common.HexToAddress(assetS)
	v.Status = model.VaultStatus(status)
	v.InitialAmount, _ = decimal.NewFromString(initialS)
	v.CurrentBalance, _ = decimal.NewFromString(balanceS)
	v.TotalReturns, _ = decimal.NewFromString(returnsS)
	if start != nil {
		v.StartTime = *start
	}
	if end != nil {
		v.EndTime = *end
	}
	return &v, nil
}

// lockClause makes reads inside a transaction hold the row until commit so
// concurrent read-modify-write cycles serialize.
func (s *PostgresStore) lockClause() string {
	if s.pool == nil {
		return " FOR UPDATE"
	}
	return ""
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
