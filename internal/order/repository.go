package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type Repository interface {
	CreateOrder(ctx context.Context, o *Order) error
	GetOrderByID(ctx context.Context, id string) (*Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*Order, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]Order, error)
	UpdateOrderStatus(ctx context.Context, id string, guard StatusGuard) (*Order, error)
	SetPreferenceID(ctx context.Context, id, preferenceID string) error
	ApplyPaymentEvent(ctx context.Context, orderID string, event PaymentEvent, guard PaymentGuard) (*Order, error)
	Stats(ctx context.Context, since time.Time) (*Stats, error)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const selectOrderColumns = `
	SELECT id, order_number, status, payment_status, customer, shipping_address,
		subtotal, shipping_price, customization_fee, discount, total_price, currency,
		coupon_code, payment_id, preference_id, payment_updated_at, created_at, updated_at
	FROM orders`

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

// inTx runs fn inside a transaction, committing on success and rolling back on error or panic.
func (r *postgresRepository) inTx(ctx context.Context, orderID string, fn func(tx pgx.Tx) error) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic_value", p).Str("order_id", orderID).Msg("Panic recovered inside transaction, rolling back")
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Str("order_id", orderID).Msg("Failed to rollback transaction after panic")
			}
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Str("order_id", orderID).Msg("Failed to rollback transaction")
			}
		} else if commitErr := tx.Commit(ctx); commitErr != nil {
			log.Error().Err(commitErr).Str("order_id", orderID).Msg("Failed to commit transaction")
			err = fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
		}
	}()

	return fn(tx)
}

func (r *postgresRepository) CreateOrder(ctx context.Context, o *Order) error {
	return r.inTx(ctx, o.ID, func(tx pgx.Tx) error {
		queryOrder := `
			INSERT INTO orders (id, order_number, status, payment_status, customer, shipping_address,
				subtotal, shipping_price, customization_fee, discount, total_price, currency,
				coupon_code, payment_id, preference_id, payment_updated_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		`
		_, err := tx.Exec(ctx, queryOrder,
			o.ID,
			o.OrderNumber,
			string(o.Status),
			string(o.PaymentStatus),
			o.Customer,
			o.ShippingAddress,
			o.Subtotal,
			o.ShippingPrice,
			o.CustomizationFee,
			o.Discount,
			o.TotalPrice,
			o.Currency,
			o.CouponCode,
			o.PaymentID,
			o.PreferenceID,
			o.PaymentUpdatedAt,
			o.CreatedAt,
			o.UpdatedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return ErrDuplicateOrderNumber
			}
			return fmt.Errorf("repository: failed to insert order: %w", err)
		}

		queryItem := `
			INSERT INTO order_items (order_id, product_id, title, unit_price, quantity, size, custom_name, custom_number)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id
		`
		for i := range o.Items {
			item := &o.Items[i]
			item.OrderID = o.ID

			err := tx.QueryRow(ctx, queryItem,
				item.OrderID,
				item.ProductID,
				item.Title,
				item.UnitPrice,
				item.Quantity,
				item.Size,
				item.CustomName,
				item.CustomNumber,
			).Scan(&item.ID)
			if err != nil {
				return fmt.Errorf("repository: failed to insert order item for order %s: %w", o.ID, err)
			}
		}
		return nil
	})
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var status, paymentStatus string
	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&status,
		&paymentStatus,
		&o.Customer,
		&o.ShippingAddress,
		&o.Subtotal,
		&o.ShippingPrice,
		&o.CustomizationFee,
		&o.Discount,
		&o.TotalPrice,
		&o.Currency,
		&o.CouponCode,
		&o.PaymentID,
		&o.PreferenceID,
		&o.PaymentUpdatedAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Status = Status(status)
	o.PaymentStatus = PaymentStatus(paymentStatus)
	o.Items = make([]OrderItem, 0)
	return &o, nil
}

func loadItems(ctx context.Context, q querier, orderIDs []string) (map[string][]OrderItem, error) {
	query := `
		SELECT id, order_id, product_id, title, unit_price, quantity, size, custom_name, custom_number
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY id
	`
	rows, err := q.Query(ctx, query, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items: %w", err)
	}
	defer rows.Close()

	items := make(map[string][]OrderItem, len(orderIDs))
	for rows.Next() {
		var item OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Title,
			&item.UnitPrice,
			&item.Quantity,
			&item.Size,
			&item.CustomName,
			&item.CustomNumber,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item: %w", err)
		}
		items[item.OrderID] = append(items[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order items: %w", err)
	}
	return items, nil
}

func (r *postgresRepository) getOne(ctx context.Context, where string, arg any) (*Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, selectOrderColumns+" WHERE "+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by %v: %w", arg, err)
	}

	if err := attachItems(ctx, r.db, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *postgresRepository) GetOrderByID(ctx context.Context, id string) (*Order, error) {
	return r.getOne(ctx, "id = $1", id)
}

func (r *postgresRepository) GetOrderByNumber(ctx context.Context, number string) (*Order, error) {
	return r.getOne(ctx, "order_number = $1", number)
}

func (r *postgresRepository) ListOrders(ctx context.Context, filter ListFilter) ([]Order, error) {
	query := selectOrderColumns + `
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, string(filter.Status), filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]Order, 0, filter.Limit)
	ids := make([]string, 0, filter.Limit)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order: %w", err)
		}
		orders = append(orders, *o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating orders: %w", err)
	}
	if len(ids) == 0 {
		return orders, nil
	}

	items, err := loadItems(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		if list, ok := items[orders[i].ID]; ok {
			orders[i].Items = list
		}
	}
	return orders, nil
}

func lockOrder(ctx context.Context, tx pgx.Tx, id string) (*Order, error) {
	current, err := scanOrder(tx.QueryRow(ctx, selectOrderColumns+" WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to lock order %s: %w", id, err)
	}
	return current, nil
}

func attachItems(ctx context.Context, q querier, o *Order) error {
	items, err := loadItems(ctx, q, []string{o.ID})
	if err != nil {
		return err
	}
	if list, ok := items[o.ID]; ok {
		o.Items = list
	}
	return nil
}

// UpdateOrderStatus locks the order row and lets guard decide the edit against the stored state.
func (r *postgresRepository) UpdateOrderStatus(ctx context.Context, id string, guard StatusGuard) (*Order, error) {
	var updated *Order

	err := r.inTx(ctx, id, func(tx pgx.Tx) error {
		current, err := lockOrder(ctx, tx, id)
		if err != nil {
			return err
		}

		update, err := guard(current)
		if err != nil {
			return err
		}

		query := `
			UPDATE orders
			SET status = $1, payment_status = $2, updated_at = $3
			WHERE id = $4
		`
		_, err = tx.Exec(ctx, query, string(update.Status), string(update.PaymentStatus), update.UpdatedAt, id)
		if err != nil {
			log.Error().Err(err).Str("order_id", id).Stringer("new_status", update.Status).Msg("repository: failed to update order status")
			return fmt.Errorf("repository: failed to update order status %s: %w", id, err)
		}

		current.Status = update.Status
		current.PaymentStatus = update.PaymentStatus
		current.UpdatedAt = update.UpdatedAt
		if err := attachItems(ctx, tx, current); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *postgresRepository) SetPreferenceID(ctx context.Context, id, preferenceID string) error {
	cmdTag, err := r.db.Exec(ctx, `UPDATE orders SET preference_id = $1, updated_at = $2 WHERE id = $3`, preferenceID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("repository: failed to set preference for order %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *postgresRepository) ApplyPaymentEvent(ctx context.Context, orderID string, event PaymentEvent, guard PaymentGuard) (*Order, error) {
	var updated *Order

	err := r.inTx(ctx, orderID, func(tx pgx.Tx) error {
		current, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		insertEvent := `
			INSERT INTO payment_events (payment_id, provider_status, order_id, provider_updated_at, request_id, received_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (payment_id, provider_status) DO NOTHING
		`
		cmdTag, err := tx.Exec(ctx, insertEvent,
			event.PaymentID,
			event.ProviderStatus,
			orderID,
			event.ProviderUpdatedAt,
			event.RequestID,
			event.ReceivedAt,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to record payment event %s: %w", event.PaymentID, err)
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrDuplicatePaymentEvent
		}

		update, err := guard(current)
		if err != nil {
			return err
		}

		updateOrder := `
			UPDATE orders
			SET status = $1, payment_status = $2, payment_id = $3, payment_updated_at = $4, updated_at = $5
			WHERE id = $6
		`
		_, err = tx.Exec(ctx, updateOrder,
			string(update.Status),
			string(update.PaymentStatus),
			update.PaymentID,
			update.ProviderUpdatedAt,
			update.UpdatedAt,
			orderID,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to apply payment event to order %s: %w", orderID, err)
		}

		current.applyPayment(update)
		if err := attachItems(ctx, tx, current); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *postgresRepository) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	rows, err := r.db.Query(ctx, `
		SELECT status, payment_status, COUNT(*), COALESCE(SUM(total_price), 0)
		FROM orders
		GROUP BY status, payment_status
	`)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to aggregate orders: %w", err)
	}
	defer rows.Close()

	acc := newStatsAccumulator()
	for rows.Next() {
		var status, paymentStatus string
		var count int64
		var total decimal.Decimal
		if err := rows.Scan(&status, &paymentStatus, &count, &total); err != nil {
			return nil, fmt.Errorf("repository: failed to scan order aggregate: %w", err)
		}
		acc.add(Status(status), PaymentStatus(paymentStatus), count, total)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating order aggregates: %w", err)
	}

	var recentCount int64
	var recentRevenue decimal.Decimal
	err = r.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total_price) FILTER (WHERE payment_status = 'paid'), 0)
		FROM orders
		WHERE created_at >= $1
	`, since).Scan(&recentCount, &recentRevenue)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to aggregate recent orders: %w", err)
	}

	return acc.finish(recentCount, recentRevenue), nil
}

func (o *Order) applyPayment(update PaymentUpdate) {
	providerUpdatedAt := update.ProviderUpdatedAt
	o.Status = update.Status
	o.PaymentStatus = update.PaymentStatus
	o.PaymentID = update.PaymentID
	o.PaymentUpdatedAt = &providerUpdatedAt
	o.UpdatedAt = update.UpdatedAt
}

type statsAccumulator struct {
	stats     Stats
	paidCount int64
}

func newStatsAccumulator() *statsAccumulator {
	return &statsAccumulator{stats: Stats{
		ByStatus:        make(map[Status]int64),
		ByPaymentStatus: make(map[PaymentStatus]int64),
		Revenue:         decimal.Zero,
	}}
}

func (a *statsAccumulator) add(status Status, paymentStatus PaymentStatus, count int64, total decimal.Decimal) {
	a.stats.TotalOrders += count
	a.stats.ByStatus[status] += count
	a.stats.ByPaymentStatus[paymentStatus] += count
	if paymentStatus == PaymentPaid {
		a.stats.Revenue = a.stats.Revenue.Add(total)
		a.paidCount += count
	}
}

func (a *statsAccumulator) finish(recentCount int64, recentRevenue decimal.Decimal) *Stats {
	a.stats.AverageTicket = decimal.Zero
	if a.paidCount > 0 {
		a.stats.AverageTicket = a.stats.Revenue.Div(decimal.NewFromInt(a.paidCount)).Round(2)
	}
	a.stats.OrdersLast30Days = recentCount
	a.stats.RevenueLast30Days = recentRevenue
	return &a.stats
}
