package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/randalmurphal/mediate/pkg/mediate"
	"github.com/randalmurphal/mediate/pkg/mediate/behavior"
	"github.com/randalmurphal/mediate/pkg/mediate/uow"
)

// PlaceOrder records a new order.
type PlaceOrder struct {
	Customer string
	Amount   float64
}

// Validate implements behavior.SelfValidating.
func (p PlaceOrder) Validate() []mediate.FieldFailure {
	var failures []mediate.FieldFailure
	if strings.TrimSpace(p.Customer) == "" {
		failures = append(failures, mediate.FieldFailure{Field: "customer", Message: "is required", Code: "required"})
	}
	if p.Amount <= 0 {
		failures = append(failures, mediate.FieldFailure{Field: "amount", Message: "must be positive", Code: "range"})
	}
	return failures
}

// OrderPlaced is published after an order has been stored.
type OrderPlaced struct {
	mediate.BaseEvent
	OrderNo  int64   `json:"order_no"`
	Customer string  `json:"customer"`
	Amount   float64 `json:"amount"`
}

const schema = `CREATE TABLE IF NOT EXISTS orders (
	order_no INTEGER PRIMARY KEY AUTOINCREMENT,
	customer TEXT NOT NULL,
	amount REAL NOT NULL,
	notified INTEGER NOT NULL DEFAULT 0
)`

func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create orders table: %w", err)
	}
	return nil
}

// placeOrder inserts the order inside the execution's transaction.
func placeOrder(ctx mediate.Context, req PlaceOrder) (OrderPlaced, error) {
	tx, ok := uow.TxFrom(ctx)
	if !ok {
		return OrderPlaced{}, errors.New("place order: no transaction")
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO orders (customer, amount) VALUES (?, ?)`, req.Customer, req.Amount)
	if err != nil {
		return OrderPlaced{}, fmt.Errorf("insert order: %w", err)
	}
	no, err := res.LastInsertId()
	if err != nil {
		return OrderPlaced{}, fmt.Errorf("order number: %w", err)
	}
	ctx.Logger().Info("order stored", "order_no", no)
	return OrderPlaced{BaseEvent: mediate.NewBaseEvent(), OrderNo: no, Customer: req.Customer, Amount: req.Amount}, nil
}

// notifier marks orders as notified. Every failEvery-th order fails so the
// retry and dead-letter paths have something to do.
type notifier struct {
	failEvery int64
}

func (n notifier) Handle(ctx mediate.Context, evt OrderPlaced) error {
	if n.failEvery > 0 && evt.OrderNo%n.failEvery == 0 {
		return fmt.Errorf("notify order %d: mail relay unavailable", evt.OrderNo)
	}
	tx, ok := uow.TxFrom(ctx)
	if !ok {
		return errors.New("notify: no transaction")
	}
	_, err := tx.ExecContext(ctx, `UPDATE orders SET notified = 1 WHERE order_no = ?`, evt.OrderNo)
	return err
}

// audit logs every placed order.
func audit(ctx mediate.Context, evt OrderPlaced) error {
	ctx.Logger().Info("order placed",
		"order_no", evt.OrderNo,
		"customer", evt.Customer,
		"amount", evt.Amount,
		"attempt", ctx.Attempt())
	return nil
}

func registerOrders(reg *mediate.Registry, failEvery int64) {
	mediate.RegisterFunc(reg, placeOrder, behavior.Validation())
	mediate.RegisterEvent[OrderPlaced](reg, notifier{failEvery: failEvery})
	mediate.RegisterEventFunc(reg, audit)
}
