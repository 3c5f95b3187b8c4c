package model

import (
	"time"
	"unicode/utf8"
)

// usersテーブルのカラム長（文字数）
const (
	MaxUsernameLength = 16
	MaxNameLength     = 30
	MaxEmailLength    = 50
)

// DirectoryRecord はディレクトリの1エントリを正規化したもの。
// 同期1回ごとに生成され、処理後に破棄される。
type DirectoryRecord struct {
	Username string
	// AccountName はディレクトリが返したままのアカウント名。
	// ディレクトリへの再検索（グループ所属の確認）にはこちらを使う。
	AccountName string
	FirstName string
	LastName  string
	Email     string
	Groups    []string
}

// OversizedField はusersテーブルのカラム長を超えるフィールド名を返す。
// すべて収まる場合は空文字列を返す。
func (r DirectoryRecord) OversizedField() string {
	switch {
	case utf8.RuneCountInString(r.Username) > MaxUsernameLength:
		return "username"
	case utf8.RuneCountInString(r.FirstName) > MaxNameLength:
		return "first_name"
	case utf8.RuneCountInString(r.LastName) > MaxNameLength:
		return "last_name"
	case utf8.RuneCountInString(r.Email) > MaxEmailLength:
		return "email"
	default:
		return ""
	}
}

// Outcome は同期における1レコードの処理結果。
type Outcome string

const (
	// OutcomeInserted は新規identityとして挿入されたことを示す。
	OutcomeInserted Outcome = "inserted"
	// OutcomeUpdated は既存identityが更新されたことを示す。
	OutcomeUpdated Outcome = "updated"
	// OutcomeUnchanged は差分がなく書き込みを行わなかったことを示す。
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeSkipped は競合（重複挿入・行の消失）またはカラム長超過によりスキップしたことを示す。
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFailed は予期しないエラーで処理できなかったことを示す。
	OutcomeFailed Outcome = "failed"
)

// RunStatistics は同期1回分の集計結果。
// NewCount + ModifiedCount <= TotalFetched が常に成り立つ。
type RunStatistics struct {
	RunID         string
	TotalFetched  int
	NewCount      int
	ModifiedCount int
	SkippedCount  int
	FailedCount   int
	// Cancelled はコンテキスト終了によりレコード処理を途中で打ち切ったことを示す。
	Cancelled  bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// Record はOutcomeに応じてカウンタを加算する。
// TotalFetchedは結果に関係なく呼び出し側で加算済みであること。
func (s *RunStatistics) Record(o Outcome) {
	switch o {
	case OutcomeInserted:
		s.NewCount++
	case OutcomeUpdated:
		s.ModifiedCount++
	case OutcomeSkipped:
		s.SkippedCount++
	case OutcomeFailed:
		s.FailedCount++
	}
}
