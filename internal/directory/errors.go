package directory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ErrorCategory はディレクトリエラーの分類。
type ErrorCategory string

const (
	CategoryConnection     ErrorCategory = "connection"
	CategoryAuthentication ErrorCategory = "authentication"
	CategoryPermission     ErrorCategory = "permission"
	CategoryServer         ErrorCategory = "server"
	CategoryUnknown        ErrorCategory = "unknown"
)

// UnavailableError はディレクトリへの接続・バインド・検索が失敗したことを示す。
// 同期実行にとって致命的であり、部分的な取得結果は返さない。
type UnavailableError struct {
	Op       string // dial, start_tls, bind, search
	Category ErrorCategory
	Code     uint16 // LDAP結果コード（LDAP以外のエラーでは0）
	Err      error
}

func (e *UnavailableError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("directory %s failed (%s, code %d): %v", e.Op, e.Category, e.Code, e.Err)
	}
	return fmt.Sprintf("directory %s failed (%s): %v", e.Op, e.Category, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// IsUnavailable はerrがUnavailableErrorを含むかどうかを判定する。
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// NewUnavailableError はopで発生したerrをUnavailableErrorに包む。
// LDAP結果コードがあればそれを優先して分類する。
func NewUnavailableError(op string, err error) *UnavailableError {
	ue := &UnavailableError{Op: op, Err: err}

	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		ue.Code = ldapErr.ResultCode
		ue.Category = categorizeResultCode(ldapErr.ResultCode)
	}

	if ue.Category == "" || ue.Category == CategoryUnknown {
		ue.Category = categorizeGeneric(err)
	}
	return ue
}

func categorizeResultCode(code uint16) ErrorCategory {
	switch code {
	case ldap.LDAPResultInvalidCredentials,
		ldap.LDAPResultInappropriateAuthentication,
		ldap.LDAPResultStrongAuthRequired,
		ldap.ErrorEmptyPassword:
		return CategoryAuthentication

	case ldap.LDAPResultInsufficientAccessRights,
		ldap.LDAPResultUnwillingToPerform:
		return CategoryPermission

	case ldap.LDAPResultServerDown,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultBusy,
		ldap.LDAPResultTimeLimitExceeded,
		ldap.LDAPResultAdminLimitExceeded:
		return CategoryServer

	case ldap.ErrorNetwork,
		ldap.LDAPResultProtocolError:
		return CategoryConnection

	default:
		return CategoryUnknown
	}
}

// categorizeGeneric はLDAP結果コードを持たないエラーをメッセージから分類する。
func categorizeGeneric(err error) ErrorCategory {
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "connection"),
		strings.Contains(msg, "network"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline"),
		strings.Contains(msg, "canceled"),
		strings.Contains(msg, "broken pipe"):
		return CategoryConnection
	case strings.Contains(msg, "credentials"),
		strings.Contains(msg, "authentication"):
		return CategoryAuthentication
	case strings.Contains(msg, "denied"),
		strings.Contains(msg, "permission"):
		return CategoryPermission
	default:
		return CategoryUnknown
	}
}
