// Package gateways reads the legacy relational sources. Each gateway owns
// the SQL for one source and returns plain rows; mapping and reconciliation
// happen in the engines. Driver errors never leave this package unclassified.
package gateways

import (
	"context"
	"errors"
	"net"

	"github.com/casemirror/dataflow/common/apperr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Querier is the part of pgxpool.Pool the gateways need
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Source is a named legacy relational source. The pool behind it is owned
// by the composition root.
type Source struct {
	name   string
	pool   Querier
	logger Logger
}

// NewSource creates a source adapter over an existing pool
func NewSource(name string, pool Querier, logger Logger) *Source {
	return &Source{
		name:   name,
		pool:   pool,
		logger: logger,
	}
}

// Name returns the source name
func (s *Source) Name() string {
	return s.name
}

// Collect runs a query and scans every row into T by column name.
// Any failure comes back as a classified *apperr.Error tagged with module.
func Collect[T any](ctx context.Context, s *Source, module, sql string, args ...any) ([]T, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, s.fail(module, err)
	}

	items, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return nil, s.fail(module, err)
	}

	return items, nil
}

// CollectOne runs a query expected to return at most one row. A missing row
// is reported as apperr.KindNotFound.
func CollectOne[T any](ctx context.Context, s *Source, module, sql, what string, args ...any) (*T, error) {
	items, err := Collect[T](ctx, s, module, sql, args...)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, apperr.NotFound(module, what+" not found")
	}
	return &items[0], nil
}

func (s *Source) fail(module string, err error) error {
	classified := Classify(module, err)

	switch classified.Kind {
	case apperr.KindConnection:
		s.logger.Error("legacy source unreachable",
			"source", s.name,
			"module", module,
			"error", err)
	case apperr.KindRequest:
		s.logger.Error("legacy source rejected query",
			"source", s.name,
			"module", module,
			"error", err)
	default:
		s.logger.Error("legacy source driver failure",
			"source", s.name,
			"module", module,
			"error", err)
	}

	return classified
}

// Classify maps a driver error onto the closed set of source failures.
// The whole chain is searched, including joined errors, so nested
// connection failures are found at any depth. Messages never include
// server-supplied text; the SQLSTATE code identifies a rejected query.
func Classify(module string, err error) *apperr.Error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return apperr.Wrap(apperr.KindConnection, module, "failed to connect to legacy source", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return apperr.Wrap(apperr.KindRequest, module, "query rejected by server (SQLSTATE "+pgErr.Code+")", err)
	}

	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return apperr.Wrap(apperr.KindConnection, module, "legacy source timed out", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperr.Wrap(apperr.KindConnection, module, "network failure talking to legacy source", err)
	}

	return apperr.Wrap(apperr.KindDriver, module, "legacy source driver failure", err)
}
