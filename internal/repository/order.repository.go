package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/dexrouter/swap-service/internal/entity"
)

const pqUniqueViolation = "23505"

// OrderRepository is the Postgres-backed entity.OrderStore. Orders live
// in the orders table, their lifecycle log in order_events with a
// per-order sequence assigned on insert.
type OrderRepository struct {
	db *sqlx.DB
}

func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, order *entity.Order) error {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(order.TableName()).
		Columns(
			"id",
			"type",
			"input_asset",
			"output_asset",
			"amount_in",
			"slippage_tolerance",
			"status",
			"venue",
			"tx_reference",
			"executed_price",
			"executed_amount",
			"error_message",
			"retry_count",
			"created_at",
			"updated_at",
		).
		Values(
			order.ID,
			order.Type,
			order.InputAsset,
			order.OutputAsset,
			order.AmountIn,
			order.SlippageTolerance,
			order.Status,
			order.Venue,
			order.TxReference,
			order.ExecutedPrice,
			order.ExecutedAmount,
			order.ErrorMessage,
			order.RetryCount,
			order.CreatedAt,
			order.UpdatedAt,
		)

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	if isUniqueViolation(err) {
		return entity.ErrOrderExists
	}

	return err
}

func (r *OrderRepository) Get(ctx context.Context, orderID string) (*entity.Order, error) {
	var order entity.Order
	err := r.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, entity.ErrOrderNotFound
		}
		return nil, err
	}

	return &order, nil
}

// UpdateStatus writes the new status plus any result or error columns.
// Rows already in a terminal status are never touched; the guard lives
// in the WHERE clause so it holds under concurrent writers too.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, status entity.OrderStatus, update entity.StatusUpdate) error {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Update(entity.Order{}.TableName()).
		Set("status", status).
		Set("updated_at", update.UpdatedAt).
		Where(sq.Eq{"id": orderID}).
		Where(sq.NotEq{"status": []entity.OrderStatus{
			entity.OrderStatusConfirmed,
			entity.OrderStatusFailed,
		}})

	if update.Result != nil {
		queryBuilder = queryBuilder.
			Set("venue", update.Result.Venue).
			Set("tx_reference", update.Result.TxReference).
			Set("executed_price", update.Result.ExecutedPrice).
			Set("executed_amount", update.Result.ExecutedAmount)
	}
	if update.ErrorMessage != "" {
		queryBuilder = queryBuilder.Set("error_message", update.ErrorMessage)
	}

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, getErr := r.Get(ctx, orderID); getErr != nil {
			return getErr
		}
		return entity.ErrOrderTerminal
	}

	return nil
}

func (r *OrderRepository) IncrementRetryCount(ctx context.Context, orderID string) (int, error) {
	var newCount int
	err := r.db.QueryRowContext(ctx,
		"UPDATE orders SET retry_count = retry_count + 1, updated_at = NOW() WHERE id = $1 RETURNING retry_count",
		orderID,
	).Scan(&newCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, entity.ErrOrderNotFound
		}
		return 0, err
	}

	return newCount, nil
}

// AppendEvent inserts the event with the next per-order sequence
// number and writes the assigned sequence back onto event. The
// scheduler guarantees a single writer per order, so MAX+1 cannot race
// with itself; the unique (order_id, sequence) index backstops that
// assumption.
func (r *OrderRepository) AppendEvent(ctx context.Context, event *entity.StatusEvent) error {
	query := fmt.Sprintf(`INSERT INTO %s (order_id, sequence, status, attempt, payload, created_at)
		VALUES ($1, (SELECT COALESCE(MAX(sequence), 0) + 1 FROM order_events WHERE order_id = $1), $2, $3, $4, $5)
		RETURNING sequence`, event.TableName())

	err := r.db.QueryRowContext(ctx, query,
		event.OrderID,
		event.Status,
		event.Attempt,
		event.Payload,
		event.CreatedAt,
	).Scan(&event.Sequence)
	if isUniqueViolation(err) {
		return fmt.Errorf("concurrent append for order %s: %w", event.OrderID, err)
	}

	return err
}

func (r *OrderRepository) ListEvents(ctx context.Context, orderID string) ([]entity.StatusEvent, error) {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("order_id", "sequence", "status", "attempt", "payload", "created_at").
		From(entity.StatusEvent{}.TableName()).
		Where(sq.Eq{"order_id": orderID}).
		OrderBy("sequence asc")

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, err
	}

	var events []entity.StatusEvent
	err = r.db.SelectContext(ctx, &events, query, args...)
	if err != nil {
		return nil, err
	}

	return events, nil
}

func (r *OrderRepository) ListRecent(ctx context.Context, limit int) ([]entity.Order, error) {
	if limit <= 0 {
		limit = 50
	}

	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("*").
		From(entity.Order{}.TableName()).
		OrderBy("created_at desc").
		Limit(uint64(limit))

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, err
	}

	var orders []entity.Order
	err = r.db.SelectContext(ctx, &orders, query, args...)
	if err != nil {
		return nil, err
	}

	return orders, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}

	return false
}
