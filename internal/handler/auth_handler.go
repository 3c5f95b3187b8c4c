// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ashr/homeops/internal/auth"
	"github.com/ashr/homeops/internal/middleware"
	"github.com/ashr/homeops/internal/model"
)

// maxFormBytes はトークン発行フォームの上限サイズ。
const maxFormBytes = 4 << 10

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, username, password string) (*auth.Token, error)
}

// AuthHandler はアクセストークン発行のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// Token はユーザー名とパスワードを検証してアクセストークンを発行する。
// POST /auth/token (application/x-www-form-urlencoded: username, password)
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("フォームを解析できません"))
		return
	}

	username := strings.TrimSpace(r.PostForm.Get("username"))
	password := r.PostForm.Get("password")
	if username == "" || password == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("usernameとpasswordは必須です"))
		return
	}

	token, err := h.service.Login(r.Context(), username, password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			w.Header().Set("WWW-Authenticate", "Bearer")
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidCredentialsError())
			return
		}
		middleware.WriteError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, token)
}
