package ledger

import (
	"context"
	"errors"

	"github.com/suragms/BillingApp-sub007/internal/repo"
	dbpkg "github.com/suragms/BillingApp-sub007/pkg/db"
	pkgerrors "github.com/suragms/BillingApp-sub007/pkg/errors"
)

const conflictMessage = "record was modified by another user, please refresh and retry"

func validationError(msg string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, msg)
}

// inFlightError answers a key whose first request has not committed yet.
func inFlightError() error {
	return pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "a request with this idempotency key is still in progress, please retry")
}

func notFoundError(format string, args ...any) error {
	return pkgerrors.Newf(pkgerrors.CodeNotFound, format, args...)
}

// translate maps repository and driver failures onto the ledger taxonomy.
// Typed errors pass through untouched.
func (e *Engine) translate(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	if errors.Is(err, repo.ErrStaleVersion) || dbpkg.IsSerializationFailure(err) {
		return pkgerrors.Wrap(pkgerrors.CodeConcurrencyConflict, err, conflictMessage)
	}

	fields := pkgerrors.Diagnose(err).Fields()
	fields["operation"] = op
	logCtx := e.logg.WithFields(ctx, fields)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		e.logg.Error(logCtx, "ledger transaction aborted", err)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ledger transaction timed out")
	}
	e.logg.Error(logCtx, "ledger persistence failure", err)
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "ledger operation failed")
}

func codeOf(err error) pkgerrors.Code {
	return pkgerrors.CodeOf(err)
}
