// Package model はドメインモデルを定義する。
package model

import "time"

// User はローカルのidentityストア（usersテーブル）の1行を表す。
// Usernameは主キーであり、作成後は変更しない。
type User struct {
	Username     string
	FirstName    string
	LastName     string
	Email        string
	PasswordHash string
	IsSuperuser  bool
	Enabled      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserFields はUpdateFieldsで部分更新するフィールドの集合。
// UpdatedAtはリポジトリ側で現在時刻に更新される。
type UserFields struct {
	FirstName    string
	LastName     string
	Email        string
	PasswordHash string
	IsSuperuser  bool
	Enabled      bool
}

// CreateUserRequest は管理者による手動ユーザー作成の入力。
type CreateUserRequest struct {
	Username    string
	FirstName   string
	LastName    string
	Email       string
	Password    string
	IsSuperuser bool
	Enabled     bool
}
