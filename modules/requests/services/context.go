package services

import (
	"context"

	"github.com/buildforge/buildforge/pkg/composables"
)

// TxRunner wraps a unit of work in a transaction. Production wiring uses
// composables.InTx; tests running against in-memory repositories inject
// PassthroughTx.
type TxRunner func(ctx context.Context, fn func(context.Context) error) error

func PassthroughTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func defaultTxRunner(run TxRunner) TxRunner {
	if run != nil {
		return run
	}
	return composables.InTx
}
