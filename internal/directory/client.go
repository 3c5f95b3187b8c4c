// Package directory はLDAP/Active Directoryからのユーザー取得と正規化を提供する。
// プロトコル由来の属性形状（バイナリ・複数値・欠落）はこのパッケージ内で吸収し、
// 他のパッケージはmodel.DirectoryRecordのみを扱う。
package directory

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// 検索属性（Active Directory名）
const (
	AttrAccountName = "sAMAccountName"
	AttrGivenName   = "givenName"
	AttrSurname     = "sn"
	AttrMail        = "mail"
	AttrMemberOf    = "memberOf"
)

// userFilter はユーザーオブジェクトを対象とする検索フィルタ。
const userFilter = "(objectClass=user)"

// pageSize はページング検索の1ページあたりの件数。ADのMaxPageSize既定値に合わせる。
const pageSize = 1000

// userAttributes は同期で取得する属性一覧。
var userAttributes = []string{AttrAccountName, AttrGivenName, AttrSurname, AttrMail, AttrMemberOf}

// Config はディレクトリクライアントの接続設定。
type Config struct {
	Server             string
	BindUsername       string
	BindPassword       string
	BaseDN             string
	Timeout            time.Duration
	StartTLS           bool
	InsecureSkipVerify bool
}

// Conn はクライアントが使用するLDAP接続の操作。*ldap.Connが満たす。
type Conn interface {
	Bind(username, password string) error
	SearchWithPaging(req *ldap.SearchRequest, pagingSize uint32) (*ldap.SearchResult, error)
	Close() error
}

// Dialer はConfigに従って未認証の接続を開く。テストでは差し替える。
type Dialer func(ctx context.Context, cfg Config) (Conn, error)

// RawEntry はディレクトリの1エントリの生の属性値。
// 属性値はすべてバイト列のまま保持し、解釈はNormalizerが行う。
type RawEntry struct {
	DN         string
	Attributes map[string][][]byte
}

// Values は属性名（大文字小文字を区別しない）に対応する値を返す。
func (e RawEntry) Values(name string) [][]byte {
	if v, ok := e.Attributes[name]; ok {
		return v
	}
	for k, v := range e.Attributes {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return nil
}

// Client はディレクトリサーバーへの検索クライアント。
// 呼び出しごとに接続・バインドし、終了時に切断する。
type Client struct {
	cfg    Config
	dial   Dialer
	logger *slog.Logger
}

// Option はClientのオプション。
type Option func(*Client)

// WithDialer は接続処理を差し替える。
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		c.dial = d
	}
}

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient はClientを生成する。
func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:    cfg,
		dial:   DialLDAP,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchUsers はベースDN配下のユーザーオブジェクトをすべて取得する。
// 接続・バインド・検索のいずれかに失敗した場合は*UnavailableErrorを返す。
func (c *Client) FetchUsers(ctx context.Context) ([]RawEntry, error) {
	start := time.Now()

	entries, err := c.search(ctx, userFilter, userAttributes)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("directory users fetched",
		slog.String("server", c.cfg.Server),
		slog.Int("entries", len(entries)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return entries, nil
}

// MemberOf は1ユーザーのmemberOf値を取得する。
// ユーザーが見つからない場合は空スライスを返す。
func (c *Client) MemberOf(ctx context.Context, username string) ([]string, error) {
	filter := fmt.Sprintf("(&%s(%s=%s))", userFilter, AttrAccountName, ldap.EscapeFilter(username))

	entries, err := c.search(ctx, filter, []string{AttrMemberOf})
	if err != nil {
		return nil, err
	}

	var groups []string
	for _, entry := range entries {
		for _, v := range entry.Values(AttrMemberOf) {
			groups = append(groups, string(v))
		}
	}
	return groups, nil
}

// Ping は接続とバインドが成功することを確認する。
func (c *Client) Ping(ctx context.Context) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (c *Client) search(ctx context.Context, filter string, attrs []string) ([]RawEntry, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	// ctx終了時に接続を閉じ、ブロック中の検索を中断させる
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	req := ldap.NewSearchRequest(
		c.cfg.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, timeLimitSeconds(c.cfg.Timeout), false,
		filter,
		attrs,
		nil,
	)

	result, err := conn.SearchWithPaging(req, pageSize)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, NewUnavailableError("search", ctxErr)
		}
		return nil, NewUnavailableError("search", err)
	}

	entries := make([]RawEntry, 0, len(result.Entries))
	for _, e := range result.Entries {
		entries = append(entries, toRawEntry(e))
	}
	return entries, nil
}

// connect は接続を開いてサービスアカウントでバインドする。
func (c *Client) connect(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewUnavailableError("dial", err)
	}

	conn, err := c.dial(ctx, c.cfg)
	if err != nil {
		return nil, NewUnavailableError("dial", err)
	}

	if err := conn.Bind(c.cfg.BindUsername, c.cfg.BindPassword); err != nil {
		conn.Close()
		c.logger.Error("directory bind failed",
			slog.String("server", c.cfg.Server),
			slog.String("bind_username", c.cfg.BindUsername),
			slog.String("error", err.Error()),
		)
		return nil, NewUnavailableError("bind", err)
	}

	return conn, nil
}

// DialLDAP はgo-ldapで接続を開く。ldaps://の場合は直接TLS、
// StartTLSが有効な場合は平文接続をTLSに昇格する。
func DialLDAP(ctx context.Context, cfg Config) (Conn, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		ServerName:         serverName(cfg.Server),
	}

	dialer := &net.Dialer{Timeout: cfg.Timeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	conn, err := ldap.DialURL(cfg.Server,
		ldap.DialWithDialer(dialer),
		ldap.DialWithTLSConfig(tlsConfig),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Server, err)
	}

	if cfg.StartTLS && !strings.HasPrefix(strings.ToLower(cfg.Server), "ldaps://") {
		if err := conn.StartTLS(tlsConfig); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to start tls: %w", err)
		}
	}

	if cfg.Timeout > 0 {
		conn.SetTimeout(cfg.Timeout)
	}

	return conn, nil
}

func toRawEntry(e *ldap.Entry) RawEntry {
	attrs := make(map[string][][]byte, len(e.Attributes))
	for _, a := range e.Attributes {
		attrs[a.Name] = a.ByteValues
	}
	return RawEntry{DN: e.DN, Attributes: attrs}
}

// serverName はldap://host:port形式のURLからホスト名を取り出す。
func serverName(server string) string {
	host := server
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	host = strings.TrimSuffix(host, "/")
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func timeLimitSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(d.Seconds())
}

// compile-time interface check
var _ Conn = (*ldap.Conn)(nil)
