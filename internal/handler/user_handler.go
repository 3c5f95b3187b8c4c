package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ashr/homeops/internal/middleware"
	"github.com/ashr/homeops/internal/model"
)

// maxUserBodyBytes はユーザー作成リクエストボディの上限サイズ。
const maxUserBodyBytes = 16 << 10

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	Create(ctx context.Context, req model.CreateUserRequest) (*model.User, error)
	Count(ctx context.Context) (int, error)
}

// userResponse はユーザーのレスポンス表現。パスワードハッシュは含めない。
type userResponse struct {
	Username    string    `json:"username"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Email       string    `json:"email"`
	IsSuperuser bool      `json:"is_superuser"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		Username:    u.Username,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Email:       u.Email,
		IsSuperuser: u.IsSuperuser,
		Enabled:     u.Enabled,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

// createUserRequest はPOST /usersのリクエストボディ。
type createUserRequest struct {
	Username    string `json:"username"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	IsSuperuser bool   `json:"is_superuser"`
	Enabled     *bool  `json:"enabled"`
}

// userStatsResponse はGET /users/statsのレスポンス。
type userStatsResponse struct {
	UserCount int `json:"user_count"`
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{service: service}
}

// Me は認証済みユーザー自身の情報を返す。
// GET /users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toUserResponse(user))
}

// Stats は登録済みユーザー数を返す。
// GET /users/stats
func (h *UserHandler) Stats(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.Count(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, userStatsResponse{UserCount: n})
}

// Create はユーザーを手動で作成する。enabledを省略した場合は有効として作成する。
// POST /users
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUserBodyBytes)

	var body createUserRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			middleware.WriteErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewValidationError("リクエストボディが大きすぎます"))
			return
		}
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("JSONを解析できません"))
		return
	}

	enabled := true
	if body.Enabled != nil {
		enabled = *body.Enabled
	}

	user, err := h.service.Create(r.Context(), model.CreateUserRequest{
		Username:    body.Username,
		FirstName:   body.FirstName,
		LastName:    body.LastName,
		Email:       body.Email,
		Password:    body.Password,
		IsSuperuser: body.IsSuperuser,
		Enabled:     enabled,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, toUserResponse(user))
}
