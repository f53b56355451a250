package middleware

import (
	"net/http"
	"strings"

	"github.com/suragms/BillingApp-sub007/api/responses"
	pkgAuth "github.com/suragms/BillingApp-sub007/pkg/auth"
	"github.com/suragms/BillingApp-sub007/pkg/config"
	pkgerrors "github.com/suragms/BillingApp-sub007/pkg/errors"
	"github.com/suragms/BillingApp-sub007/pkg/logger"
)

const bearerPrefix = "bearer "

// Auth requires a bearer access token and scopes the request to the tenant
// and user it names. A broken JWT config fails every request with 500.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	signer, cfgErr := pkgAuth.NewSigner(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfgErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, cfgErr, "auth not configured"))
				return
			}
			raw, ok := bearerToken(r)
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			claims, err := signer.Verify(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithIdentity(r.Context(), claims.TenantID, claims.UserID)
			if logg != nil {
				ctx = logg.WithFields(ctx, map[string]any{"tenant_id": claims.TenantID, "user_id": claims.UserID})
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return token, token != ""
}
