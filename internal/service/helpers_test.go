package service

import (
	"context"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

func newTestLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// mockTx satisfies pgx.Tx for services whose repositories are mocked.
type mockTx struct{ pgx.Tx }

func (mockTx) Commit(context.Context) error   { return nil }
func (mockTx) Rollback(context.Context) error { return nil }
