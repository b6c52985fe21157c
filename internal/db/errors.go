package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/raphaelgruber/moviesync/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// Sentinel errors for database operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrTransactionConflict indicates a SurrealDB transaction conflict.
	// This occurs when concurrent writers touch the same records; retrying is safe.
	ErrTransactionConflict = errors.New("transaction conflict")
)

// classifyError maps a failed SurrealDB call to the pipeline's error classes.
// RPC and query errors come from the server and will fail again; anything else
// (closed sockets, timeouts, reconnects) is treated as transient. Context
// errors are returned unchanged.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		msg := queryErr.Message
		if strings.Contains(msg, "Transaction conflict") {
			return fmt.Errorf("%w: %w: %s", models.ErrTransient, ErrTransactionConflict, msg)
		}
		return fmt.Errorf("%w: %w", models.ErrPermanent, err)
	}

	var rpcErr *surrealdb.RPCError
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("%w: %w", models.ErrPermanent, err)
	}

	return fmt.Errorf("%w: %w", models.ErrTransient, err)
}

// statementError returns the failure message of one statement result, or "".
func statementError(r surrealdb.QueryResult[any]) string {
	if r.Error != nil {
		return r.Error.Message
	}
	if r.Status != "" && r.Status != "OK" {
		if s, ok := r.Result.(string); ok && s != "" {
			return s
		}
		return "status " + r.Status
	}
	return ""
}
