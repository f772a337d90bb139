package auth

import (
	"context"
	"net/http"

	"github.com/xela07ax/cloud-blacklist-guard/internal/domain"
	"go.uber.org/zap"
)

// TokenValidator - проверка токена оператора
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.OperatorClaims, error)
}

type ctxKey string

const claimsKey ctxKey = "operator_claims"

func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			logger.Debug("operator authorized",
				zap.String("operator_id", claims.OperatorID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// WithClaims кладет claims в контекст запроса.
func WithClaims(ctx context.Context, claims *domain.OperatorClaims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFrom достает claims. Если авторизация выключена - ok == false.
func ClaimsFrom(ctx context.Context) (*domain.OperatorClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(*domain.OperatorClaims)
	return claims, ok
}
