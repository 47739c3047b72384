package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fairyhunter13/querypanda/internal/domain"
)

// AsPgError unwraps a server-reported error.
func AsPgError(err error) (*pgconn.PgError, bool) {
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// classify attaches the domain sentinel matching a driver error.
// SQLSTATE classes: 42 syntax/undefined object and 22 data exception are
// caller mistakes; 08 is a connection exception.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrQueryFailed, err)
	}
	if pe, ok := AsPgError(err); ok {
		switch {
		case strings.HasPrefix(pe.Code, "42"), strings.HasPrefix(pe.Code, "22"):
			return fmt.Errorf("%w: %w", domain.ErrInvalidArgument, err)
		case strings.HasPrefix(pe.Code, "08"):
			return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
		default:
			return fmt.Errorf("%w: %w", domain.ErrQueryFailed, err)
		}
	}
	var ce *pgconn.ConnectError
	if errors.As(err, &ce) {
		return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrQueryFailed, err)
}
