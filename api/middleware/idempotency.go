package middleware

import (
	"net/http"
	"strings"
	"unicode"

	"github.com/suragms/BillingApp-sub007/api/responses"
	pkgerrors "github.com/suragms/BillingApp-sub007/pkg/errors"
	"github.com/suragms/BillingApp-sub007/pkg/logger"
)

const (
	IdempotencyHeader    = "Idempotency-Key"
	maxIdempotencyKeyLen = 128
)

// IdempotencyKey lifts the Idempotency-Key header into the request context.
// Replay itself is the ledger's job; this only rejects malformed keys.
func IdempotencyKey(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLen || strings.IndexFunc(key, invalidKeyRune) >= 0 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid Idempotency-Key header").
					WithDetails(map[string]any{"maxLength": maxIdempotencyKeyLen}))
				return
			}
			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithField(ctx, "idempotency_key", key)
			}
			next.ServeHTTP(w, r.WithContext(withIdempotencyKey(ctx, key)))
		})
	}
}

func invalidKeyRune(r rune) bool {
	return r > unicode.MaxASCII || !unicode.IsPrint(r) || unicode.IsSpace(r)
}
