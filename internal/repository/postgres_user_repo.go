package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ashr/homeops/internal/model"
	"github.com/lib/pq"
)

// pgUniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const pgUniqueViolation = "23505"

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
	postgresUserStore
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{
		db:                db,
		postgresUserStore: postgresUserStore{q: db},
	}
}

// Count は登録済みユーザー数を返す。
func (r *PostgresUserRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

// WithTx はfnを1つのトランザクション内で実行する。
// fnがnilを返した場合のみコミットする。
func (r *PostgresUserRepo) WithTx(ctx context.Context, fn func(store UserStore) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&postgresUserStore{q: tx, forUpdate: true}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// postgresUserStore はquerierに対してusersテーブルを操作する。
// forUpdateがtrueの場合、FindByUsernameは行ロックを取得する。
type postgresUserStore struct {
	q         querier
	forUpdate bool
}

// FindByUsername は指定usernameのユーザーを取得する。見つからない場合はnilを返す。
func (s *postgresUserStore) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	query := `SELECT username, first_name, last_name, email_address, password_hash,
		        is_superuser, enabled, created_at, updated_at
		 FROM users WHERE username = $1`
	if s.forUpdate {
		query += ` FOR UPDATE`
	}

	user := &model.User{Username: username}
	var firstName, lastName, passwordHash sql.NullString
	err := s.q.QueryRowContext(ctx, query, username).Scan(
		&user.Username, &firstName, &lastName, &user.Email, &passwordHash,
		&user.IsSuperuser, &user.Enabled, &user.CreatedAt, &user.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by username: %w", err)
	}

	user.FirstName = firstName.String
	user.LastName = lastName.String
	user.PasswordHash = passwordHash.String

	return user, nil
}

// Insert はユーザーを作成する。
// CreatedAt/UpdatedAtがゼロ値の場合は現在時刻を設定する。
func (s *postgresUserStore) Insert(ctx context.Context, user *model.User) error {
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO users (username, first_name, last_name, email_address, password_hash,
		                    is_superuser, enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.Username, user.FirstName, user.LastName, user.Email, user.PasswordHash,
		user.IsSuperuser, user.Enabled, user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert user %s: %w", user.Username, model.ErrDuplicateUsername)
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	return nil
}

// UpdateFields はユーザーの可変フィールドを部分更新する。
// usernameとcreated_atは変更しない。
func (s *postgresUserStore) UpdateFields(ctx context.Context, username string, fields model.UserFields) error {
	result, err := s.q.ExecContext(ctx,
		`UPDATE users
		 SET first_name = $2, last_name = $3, email_address = $4, password_hash = $5,
		     is_superuser = $6, enabled = $7, updated_at = now()
		 WHERE username = $1`,
		username, fields.FirstName, fields.LastName, fields.Email, fields.PasswordHash,
		fields.IsSuperuser, fields.Enabled,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("update user %s: %w", username, model.ErrUserNotFound)
	}

	return nil
}

// isUniqueViolation はerrがPostgreSQLの一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUniqueViolation
	}
	return false
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
var _ UserStore = (*postgresUserStore)(nil)
