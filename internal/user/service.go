// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/ashr/homeops/internal/auth"
	"github.com/ashr/homeops/internal/model"
)

// Store はユーザー管理に必要なストア操作。repository.UserRepositoryが満たす。
type Store interface {
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	Insert(ctx context.Context, user *model.User) error
	Count(ctx context.Context) (int, error)
}

// Service はユーザー管理のサービス層。
// 管理者による手動作成と参照系の操作を提供する。
type Service struct {
	store Store
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Create はユーザーを手動で作成する。パスワードはbcryptでハッシュ化して保存する。
// 同じusernameが既に存在する場合はUSERNAME_EXISTSのAPIErrorを返す。
func (s *Service) Create(ctx context.Context, req model.CreateUserRequest) (*model.User, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)

	if err := validate(req); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}

	u := &model.User{
		Username:     req.Username,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        req.Email,
		PasswordHash: hash,
		IsSuperuser:  req.IsSuperuser,
		Enabled:      req.Enabled,
	}

	if err := s.store.Insert(ctx, u); err != nil {
		if errors.Is(err, model.ErrDuplicateUsername) {
			return nil, model.NewUsernameExistsError(req.Username)
		}
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	slog.Info("ユーザーを作成しました",
		slog.String("username", u.Username),
		slog.Bool("is_superuser", u.IsSuperuser),
	)

	return u, nil
}

// Get はusernameのユーザーを取得する。存在しない場合はUSER_NOT_FOUNDのAPIErrorを返す。
func (s *Service) Get(ctx context.Context, username string) (*model.User, error) {
	u, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError(username)
	}
	return u, nil
}

// Count は登録済みユーザー数を返す。
func (s *Service) Count(ctx context.Context) (int, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("ユーザー数の取得に失敗しました: %w", err)
	}
	return n, nil
}

func validate(req model.CreateUserRequest) error {
	switch n := utf8.RuneCountInString(req.Username); {
	case n == 0:
		return model.NewValidationError("usernameは必須です")
	case n > model.MaxUsernameLength:
		return model.NewValidationError(fmt.Sprintf("usernameは%d文字以内で指定してください", model.MaxUsernameLength))
	}
	if strings.HasSuffix(req.Username, "$") {
		return model.NewValidationError("usernameの末尾に$は使用できません")
	}
	if req.Email == "" {
		return model.NewValidationError("emailは必須です")
	}
	if utf8.RuneCountInString(req.Email) > model.MaxEmailLength || !strings.Contains(req.Email, "@") {
		return model.NewValidationError("emailの形式が不正です")
	}
	if utf8.RuneCountInString(req.FirstName) > model.MaxNameLength || utf8.RuneCountInString(req.LastName) > model.MaxNameLength {
		return model.NewValidationError(fmt.Sprintf("氏名は%d文字以内で指定してください", model.MaxNameLength))
	}
	if req.Password == "" {
		return model.NewValidationError("passwordは必須です")
	}
	return nil
}
