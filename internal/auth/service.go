// Package auth はローカル認証とアクセストークンの発行を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashr/homeops/internal/model"
)

// ErrInvalidCredentials はユーザー名・パスワードが一致しないことを示す。
// ユーザーが存在しない場合や無効化されている場合も同じエラーを返す。
var ErrInvalidCredentials = errors.New("invalid credentials")

// UserFinder はusernameでユーザーを検索する。
type UserFinder interface {
	FindByUsername(ctx context.Context, username string) (*model.User, error)
}

// Token はPOST /auth/tokenのレスポンス。
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users  UserFinder
	tokens *TokenIssuer
}

// NewService はServiceを生成する。
func NewService(users UserFinder, tokens *TokenIssuer) *Service {
	return &Service{users: users, tokens: tokens}
}

// Login はユーザー名とパスワードを検証し、アクセストークンを発行する。
func (s *Service) Login(ctx context.Context, username, password string) (*Token, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || !user.Enabled || !VerifyPassword(password, user.PasswordHash) {
		slog.Info("login rejected", slog.String("username", username))
		return nil, ErrInvalidCredentials
	}

	accessToken, err := s.tokens.Issue(user.Username)
	if err != nil {
		return nil, err
	}

	slog.Info("user logged in", slog.String("username", user.Username))
	return &Token{
		AccessToken: accessToken,
		TokenType:   "bearer",
		ExpiresIn:   int(s.tokens.TTL().Seconds()),
	}, nil
}

// CurrentUser はアクセストークンから現在のユーザーを取得する。
// 無効化されたユーザーのトークンは受け付けない。
func (s *Service) CurrentUser(ctx context.Context, accessToken string) (*model.User, error) {
	username, err := s.tokens.Parse(accessToken)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || !user.Enabled {
		return nil, fmt.Errorf("%w: user %s is unknown or disabled", ErrInvalidToken, username)
	}

	return user, nil
}
