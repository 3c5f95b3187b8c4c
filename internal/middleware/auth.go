package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashr/homeops/internal/auth"
	"github.com/ashr/homeops/internal/model"
)

type contextKey string

const userContextKey contextKey = "user"

// ErrNoUser はコンテキストに認証済みユーザーが存在しない場合のエラー。
var ErrNoUser = errors.New("no authenticated user in context")

// Authenticator はアクセストークンからユーザーを解決する。auth.Serviceが満たす。
type Authenticator interface {
	CurrentUser(ctx context.Context, accessToken string) (*model.User, error)
}

// UserFromContext はコンテキストから認証済みユーザーを取得する。
func UserFromContext(ctx context.Context) (*model.User, error) {
	u, ok := ctx.Value(userContextKey).(*model.User)
	if !ok || u == nil {
		return nil, ErrNoUser
	}
	return u, nil
}

// ContextWithUser はユーザーを格納したコンテキストを返す。
func ContextWithUser(ctx context.Context, u *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}

// NewBearerAuthMiddleware はAuthorization: Bearerヘッダーのトークンを検証するミドルウェアを返す。
// トークンが無い、またはauth.ErrInvalidTokenの場合は401、それ以外のエラーは500を返す。
func NewBearerAuthMiddleware(authenticator Authenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			user, err := authenticator.CurrentUser(r.Context(), token)
			if err != nil && !errors.Is(err, auth.ErrInvalidToken) {
				slog.Error("failed to resolve access token", slog.String("error", err.Error()))
				WriteInternalServerError(w)
				return
			}
			if err != nil {
				slog.Debug("access token rejected", slog.String("error", err.Error()))
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			setRequestUsername(r.Context(), user.Username)
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// NewRequireSuperuser はスーパーユーザー以外を403で拒否するミドルウェアを返す。
// NewBearerAuthMiddlewareの後に配置する。
func NewRequireSuperuser() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := UserFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if !user.IsSuperuser {
				slog.Warn("superuser required", slog.String("username", user.Username))
				WriteErrorResponse(w, http.StatusForbidden, model.NewSuperuserRequiredError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
