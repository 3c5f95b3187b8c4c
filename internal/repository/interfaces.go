// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"

	"github.com/ashr/homeops/internal/model"
)

// UserStore はusersテーブルの1行に対するread-compare-write操作。
// WithTxのコールバックにはトランザクションに束縛された実装が渡される。
type UserStore interface {
	// FindByUsername は指定usernameのユーザーを取得する。見つからない場合はnilを返す。
	// トランザクション内では行ロック（FOR UPDATE）を取得する。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// Insert はユーザーを作成する。
	// 同じusernameの行が既に存在する場合はmodel.ErrDuplicateUsernameを返す。
	Insert(ctx context.Context, user *model.User) error

	// UpdateFields はユーザーの可変フィールドを部分更新し、updated_atを現在時刻にする。
	// 行が存在しない場合はmodel.ErrUserNotFoundを返す。
	UpdateFields(ctx context.Context, username string, fields model.UserFields) error
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	UserStore

	// Count は登録済みユーザー数を返す。
	Count(ctx context.Context) (int, error)

	// WithTx はfnを1つのトランザクション内で実行する。
	// fnがエラーを返した場合はロールバックし、そのエラーをそのまま返す。
	WithTx(ctx context.Context, fn func(store UserStore) error) error
}

// querier は*sql.DBと*sql.Txに共通するクエリ操作。
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
