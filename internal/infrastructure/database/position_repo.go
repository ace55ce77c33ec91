package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/bimakw/position-indexer/internal/domain/entities"
	"github.com/bimakw/position-indexer/internal/domain/repositories"
)

// Ensure PositionRepo implements the position repositories
var (
	_ repositories.PositionRepository      = (*PositionRepo)(nil)
	_ repositories.PositionQueryRepository = (*PositionRepo)(nil)
)

var positionColumns = []string{
	"token_address",
	"account_address",
	"balance",
	"pending_transfer",
	"exchange_balance",
	"exchange_commitment",
	"created",
	"modified",
}

// positionRow is idx_position as scanned; NUMERIC columns come back as text
type positionRow struct {
	TokenAddress       string    `db:"token_address"`
	AccountAddress     string    `db:"account_address"`
	Balance            string    `db:"balance"`
	PendingTransfer    string    `db:"pending_transfer"`
	ExchangeBalance    string    `db:"exchange_balance"`
	ExchangeCommitment string    `db:"exchange_commitment"`
	Created            time.Time `db:"created"`
	Modified           time.Time `db:"modified"`
}

func (r positionRow) toEntity() (*entities.Position, error) {
	p := &entities.Position{
		TokenAddress:   r.TokenAddress,
		AccountAddress: r.AccountAddress,
		CreatedAt:      r.Created,
		ModifiedAt:     r.Modified,
	}

	var err error
	if p.Balance, err = parseAmount("balance", r.Balance); err != nil {
		return nil, err
	}
	if p.PendingTransfer, err = parseAmount("pending_transfer", r.PendingTransfer); err != nil {
		return nil, err
	}
	if p.ExchangeBalance, err = parseAmount("exchange_balance", r.ExchangeBalance); err != nil {
		return nil, err
	}
	if p.ExchangeCommitment, err = parseAmount("exchange_commitment", r.ExchangeCommitment); err != nil {
		return nil, err
	}
	return p, nil
}

// PositionRepo implements the position repositories using PostgreSQL.
// It runs on a *sqlx.DB for reads and on a *sqlx.Tx inside a sync cycle.
type PositionRepo struct {
	db sqlx.ExtContext
}

// NewPositionRepo creates a new position repository
func NewPositionRepo(db sqlx.ExtContext) *PositionRepo {
	return &PositionRepo{db: db}
}

// Get retrieves a position, nil if the row does not exist
func (r *PositionRepo) Get(ctx context.Context, tokenAddress, accountAddress string) (*entities.Position, error) {
	query, args, err := psql.Select(positionColumns...).
		From("idx_position").
		Where("token_address = ? AND account_address = ?", tokenAddress, accountAddress).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var row positionRow
	if err := sqlx.GetContext(ctx, r.db, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get position: %w", err)
	}

	return row.toEntity()
}

// Create inserts a new position row
func (r *PositionRepo) Create(ctx context.Context, position *entities.Position) error {
	query, args, err := psql.Insert("idx_position").
		Columns("token_address", "account_address", "balance", "pending_transfer", "exchange_balance", "exchange_commitment").
		Values(
			position.TokenAddress,
			position.AccountAddress,
			position.Balance.String(),
			position.PendingTransfer.String(),
			position.ExchangeBalance.String(),
			position.ExchangeCommitment.String(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to create position: %w", err)
	}

	return nil
}

// Update applies only the supplied fields of an update to an existing row
func (r *PositionRepo) Update(ctx context.Context, tokenAddress, accountAddress string, update entities.PositionUpdate) error {
	if update.IsEmpty() {
		return nil
	}

	builder := psql.Update("idx_position")
	if update.Balance != nil {
		builder = builder.Set("balance", update.Balance.String())
	}
	if update.PendingTransfer != nil {
		builder = builder.Set("pending_transfer", update.PendingTransfer.String())
	}
	if update.ExchangeBalance != nil {
		builder = builder.Set("exchange_balance", update.ExchangeBalance.String())
	}
	if update.ExchangeCommitment != nil {
		builder = builder.Set("exchange_commitment", update.ExchangeCommitment.String())
	}

	query, args, err := builder.
		Set("modified", sq.Expr("NOW()")).
		Where("token_address = ? AND account_address = ?", tokenAddress, accountAddress).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update position: %w", err)
	}

	return nil
}

func (r *PositionRepo) filteredQuery(column, value string, includeFormer bool) sq.SelectBuilder {
	q := psql.Select().From("idx_position").Where(sq.Eq{column: value})
	if !includeFormer {
		q = q.Where("(balance > 0 OR pending_transfer > 0 OR exchange_balance > 0 OR exchange_commitment > 0)")
	}
	return q
}

func (r *PositionRepo) list(ctx context.Context, q sq.SelectBuilder, limit, offset int) ([]entities.Position, error) {
	query, args, err := q.Columns(positionColumns...).
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var rows []positionRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}

	positions := make([]entities.Position, 0, len(rows))
	for _, row := range rows {
		p, err := row.toEntity()
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}

	return positions, nil
}

func (r *PositionRepo) count(ctx context.Context, q sq.SelectBuilder) (int64, error) {
	query, args, err := q.Columns("COUNT(*)").ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}

	var count int64
	if err := sqlx.GetContext(ctx, r.db, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count positions: %w", err)
	}

	return count, nil
}

// ListByAccount retrieves positions of an account ordered by token address
func (r *PositionRepo) ListByAccount(ctx context.Context, accountAddress string, includeFormer bool, limit, offset int) ([]entities.Position, error) {
	q := r.filteredQuery("account_address", accountAddress, includeFormer).OrderBy("token_address")
	return r.list(ctx, q, limit, offset)
}

// CountByAccount returns the number of positions ListByAccount would page over
func (r *PositionRepo) CountByAccount(ctx context.Context, accountAddress string, includeFormer bool) (int64, error) {
	return r.count(ctx, r.filteredQuery("account_address", accountAddress, includeFormer))
}

// GetByAccountAndToken retrieves one position, nil if absent
func (r *PositionRepo) GetByAccountAndToken(ctx context.Context, accountAddress, tokenAddress string) (*entities.Position, error) {
	return r.Get(ctx, tokenAddress, accountAddress)
}

// ListByToken retrieves the holders of a token, largest balance first
func (r *PositionRepo) ListByToken(ctx context.Context, tokenAddress string, includeFormer bool, limit, offset int) ([]entities.Position, error) {
	q := r.filteredQuery("token_address", tokenAddress, includeFormer).OrderBy("balance DESC", "account_address")
	return r.list(ctx, q, limit, offset)
}

// CountByToken returns the number of positions ListByToken would page over
func (r *PositionRepo) CountByToken(ctx context.Context, tokenAddress string, includeFormer bool) (int64, error) {
	return r.count(ctx, r.filteredQuery("token_address", tokenAddress, includeFormer))
}
