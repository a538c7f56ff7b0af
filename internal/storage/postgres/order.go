package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

const (
	insertOrderSQL = `INSERT INTO orders
		(id, user_id, user_name, user_email, user_tier, items, amount, transaction_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	getOrderSQL = `SELECT id::text, user_id, user_name, user_email, user_tier, items,
		amount, transaction_ref, created_at
		FROM orders WHERE id = $1`
)

var (
	_ checkout.OrderRepository = (*OrderRepository)(nil)
	_ checkout.OrderReader     = (*OrderRepository)(nil)
)

// OrderRepository implements checkout.OrderRepository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Save persists a confirmed order and assigns it a UUID. The cart items are
// stored as JSONB.
func (r *OrderRepository) Save(
	ctx context.Context,
	cart checkout.Cart,
	amount decimal.Decimal,
	transactionRef string,
) (*checkout.Order, error) {
	items := cart.Items
	if items == nil {
		items = []checkout.Item{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return nil, errors.Wrap(err, "marshal order items")
	}

	o := &checkout.Order{
		ID:             uuid.New().String(),
		User:           cart.User,
		Items:          items,
		Amount:         amount,
		TransactionRef: transactionRef,
	}

	err = r.pool.QueryRow(ctx, insertOrderSQL,
		o.ID, o.User.ID, o.User.Name, o.User.Email, string(o.User.Tier),
		itemsJSON, o.Amount, o.TransactionRef,
	).Scan(&o.CreatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "insert order %q", o.ID)
	}

	return o, nil
}

// Get returns the order with the given ID, or checkout.ErrOrderNotFound.
func (r *OrderRepository) Get(ctx context.Context, id string) (*checkout.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, checkout.ErrOrderNotFound
	}

	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "query order %q", id)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, checkout.ErrOrderNotFound
		}
		return nil, errors.Wrapf(err, "scan order %q", id)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (checkout.Order, error) {
	var (
		o         checkout.Order
		tier      string
		itemsJSON []byte
		createdAt time.Time
	)
	if err := row.Scan(
		&o.ID, &o.User.ID, &o.User.Name, &o.User.Email, &tier, &itemsJSON,
		&o.Amount, &o.TransactionRef, &createdAt,
	); err != nil {
		return checkout.Order{}, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return checkout.Order{}, errors.Wrap(err, "unmarshal order items")
	}
	o.User.Tier = checkout.ParseTier(tier)
	o.CreatedAt = createdAt
	return o, nil
}
