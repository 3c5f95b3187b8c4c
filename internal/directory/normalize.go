package directory

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/ashr/homeops/internal/model"
	"golang.org/x/text/unicode/norm"
)

// Normalizer はRawEntryを正規化済みのmodel.DirectoryRecordに変換する。
type Normalizer struct {
	domain string
	logger *slog.Logger
}

// NewNormalizer はNormalizerを生成する。
// domainはmail属性がない場合のメールアドレス補完に使う。
func NewNormalizer(domain string, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{domain: domain, logger: logger}
}

// Normalize はエントリを正規化する。
// アカウント名が欠落している、または末尾が$（マシン・サービスアカウント）の場合は
// falseを返す。それ以外の不正な属性値は空文字列に落としてパニックしない。
// UsernameはNFC化と前後の空白除去を行った値、AccountNameはディレクトリ上の値そのもの。
func (n *Normalizer) Normalize(entry RawEntry) (model.DirectoryRecord, bool) {
	username, ok := n.decodeFirst(entry, AttrAccountName)
	username = strings.TrimSpace(username)
	if !ok || username == "" {
		n.logger.Warn("directory entry skipped: missing account name", slog.String("dn", entry.DN))
		return model.DirectoryRecord{}, false
	}
	if strings.HasSuffix(username, "$") {
		n.logger.Debug("directory entry skipped: machine account", slog.String("username", username))
		return model.DirectoryRecord{}, false
	}

	firstName, _ := n.decodeFirst(entry, AttrGivenName)
	lastName, _ := n.decodeFirst(entry, AttrSurname)

	email, _ := n.decodeFirst(entry, AttrMail)
	email = strings.TrimSpace(email)
	if email == "" {
		email = username + "@" + n.domain
		n.logger.Debug("directory mail synthesized", slog.String("username", username), slog.String("email", email))
	}

	var groups []string
	for _, raw := range entry.Values(AttrMemberOf) {
		g, valid := decode(raw)
		if !valid {
			n.logger.Warn("directory memberOf value is not valid UTF-8",
				slog.String("username", username),
			)
			continue
		}
		if g != "" {
			groups = append(groups, g)
		}
	}

	return model.DirectoryRecord{
		Username:    username,
		AccountName: string(entry.Values(AttrAccountName)[0]),
		FirstName:   firstName,
		LastName:    lastName,
		Email:       email,
		Groups:      groups,
	}, true
}

// decodeFirst は属性の先頭値を文字列として返す。
// 属性が存在しない、または値が空の場合はfalseを返す。
// UTF-8として不正な値は警告を出して空文字列にする。
func (n *Normalizer) decodeFirst(entry RawEntry, attr string) (string, bool) {
	values := entry.Values(attr)
	if len(values) == 0 {
		return "", false
	}

	s, valid := decode(values[0])
	if !valid {
		n.logger.Warn("directory attribute is not valid UTF-8",
			slog.String("dn", entry.DN),
			slog.String("attribute", attr),
		)
		return "", false
	}
	return s, true
}

// decode はバイト列をUTF-8として解釈しNFCに正規化する。
func decode(b []byte) (string, bool) {
	if !utf8.Valid(b) {
		return "", false
	}
	return norm.NFC.String(string(b)), true
}
