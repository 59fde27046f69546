// Package uow provides a database/sql transaction as a dispatch Scope.
//
// Each pipeline execution gets its own transaction. It is committed when
// the pipeline succeeds and rolled back when it fails or panics.
package uow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/randalmurphal/mediate/pkg/mediate"
)

// Scope is the transaction held for one pipeline execution.
type Scope struct {
	tx *sql.Tx
}

// Tx returns the transaction.
func (s *Scope) Tx() *sql.Tx { return s.tx }

// Release commits the transaction on a nil outcome and rolls it back
// otherwise. A transaction the handler already finished is left alone.
func (s *Scope) Release(_ context.Context, outcome error) error {
	if outcome != nil {
		if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			return fmt.Errorf("uow: rollback: %w", err)
		}
		return nil
	}
	if err := s.tx.Commit(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("uow: commit: %w", err)
	}
	return nil
}

// Factory returns a ScopeFactory that begins a transaction on db for
// every pipeline execution. opts may be nil.
func Factory(db *sql.DB, opts *sql.TxOptions) mediate.ScopeFactory {
	return func(ctx context.Context) (mediate.Scope, error) {
		tx, err := db.BeginTx(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("uow: begin: %w", err)
		}
		return &Scope{tx: tx}, nil
	}
}

// TxFrom returns the transaction of the execution c belongs to, or false
// when the dispatcher was built without Factory.
func TxFrom(c mediate.Context) (*sql.Tx, bool) {
	s, ok := c.Scope().(*Scope)
	if !ok {
		return nil, false
	}
	return s.tx, true
}
