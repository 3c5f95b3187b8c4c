package directory

import (
	"context"
	"log/slog"
	"strings"
)

// DefaultPrivilegedGroup は特権グループ名が未設定の場合に使うグループ名。
const DefaultPrivilegedGroup = "Admins"

// MembershipLookup はユーザー1人のグループ所属を問い合わせる。*Clientが満たす。
type MembershipLookup interface {
	MemberOf(ctx context.Context, username string) ([]string, error)
}

// FailureRecorder は所属照会の失敗を記録する。
type FailureRecorder interface {
	RecordRoleLookupFailure()
}

// RoleResolver はグループ所属からスーパーユーザー権限を判定する。
type RoleResolver struct {
	lookup   MembershipLookup
	failures FailureRecorder
	logger   *slog.Logger
}

// NewRoleResolver はRoleResolverを生成する。failuresはnilでもよい。
func NewRoleResolver(lookup MembershipLookup, failures FailureRecorder, logger *slog.Logger) *RoleResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoleResolver{lookup: lookup, failures: failures, logger: logger}
}

// IsPrivileged はusernameのmemberOfにgroupを含む値があればtrueを返す。
// 照会に失敗した場合はfalseを返す（fail-closed）。groupが空の場合はDefaultPrivilegedGroupを使う。
func (r *RoleResolver) IsPrivileged(ctx context.Context, username, group string) bool {
	if strings.TrimSpace(group) == "" {
		group = DefaultPrivilegedGroup
	}

	groups, err := r.lookup.MemberOf(ctx, username)
	if err != nil {
		r.logger.Warn("role lookup failed, treating user as unprivileged",
			slog.String("username", username),
			slog.String("error", err.Error()),
		)
		if r.failures != nil {
			r.failures.RecordRoleLookupFailure()
		}
		return false
	}

	return HasGroup(groups, group)
}

// HasGroup はgroupsのいずれかがgroupを部分文字列として含むかどうかを返す。
func HasGroup(groups []string, group string) bool {
	for _, g := range groups {
		if strings.Contains(g, group) {
			return true
		}
	}
	return false
}
