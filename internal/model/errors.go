// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrDuplicateUsername は同一usernameの行が既に存在するため挿入できなかったことを示す。
// 同時実行された同期との挿入競合で発生する。
var ErrDuplicateUsername = errors.New("username already exists")

// ErrUserNotFound は対象のユーザー行が存在しないことを示す。
// 読み取りから書き込みまでの間に行が消えた場合にも返る。
var ErrUserNotFound = errors.New("user not found")

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, directory, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	ErrCodeSuperuserRequired    = "SUPERUSER_REQUIRED"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeUsernameExists       = "USERNAME_EXISTS"
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeDirectoryUnavailable = "DIRECTORY_UNAVAILABLE"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "アクセストークンを取得してAuthorizationヘッダーに指定してください。",
	}
}

// NewInvalidCredentialsError はユーザー名またはパスワードが一致しない場合のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "ユーザー名またはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認してください。",
	}
}

// NewSuperuserRequiredError はスーパーユーザー権限がない場合のエラーを生成する。
func NewSuperuserRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSuperuserRequired,
		Message:  "この操作にはスーパーユーザー権限が必要です。",
		Category: "auth",
		Action:   "管理者グループに所属するユーザーで再度お試しください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  fmt.Sprintf("ユーザーが見つかりません: %s", username),
		Category: "auth",
		Action:   "ユーザー名を確認してください。",
	}
}

// NewUsernameExistsError は同じユーザー名が既に登録されている場合のエラーを生成する。
func NewUsernameExistsError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeUsernameExists,
		Message:  fmt.Sprintf("ユーザー名は既に使用されています: %s", username),
		Category: "validation",
		Action:   "別のユーザー名を指定してください。",
	}
}

// NewValidationError は入力値が不正な場合のエラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力値が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewDirectoryUnavailableError はディレクトリサーバーに接続できない場合のエラーを生成する。
func NewDirectoryUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeDirectoryUnavailable,
		Message:  "ディレクトリサーバーに接続できませんでした。",
		Category: "directory",
		Action:   "ディレクトリサーバーの状態と接続設定を確認してください。",
	}
}
