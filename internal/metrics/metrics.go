// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 同期実行の結果ラベル
const (
	RunResultSuccess              = "success"
	RunResultCancelled            = "cancelled"
	RunResultDirectoryUnavailable = "directory_unavailable"
)

// SyncRecorder は同期エンジンから利用するメトリクス記録インターフェース。
type SyncRecorder interface {
	RecordSyncRun(result string, duration time.Duration)
	RecordSyncRecord(outcome string)
	RecordRoleLookupFailure()
}

// HTTPRecorder はHTTPミドルウェアから利用するメトリクス記録インターフェース。
type HTTPRecorder interface {
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	syncRuns           *prometheus.CounterVec
	syncRecords        *prometheus.CounterVec
	syncDuration       prometheus.Histogram
	roleLookupFailures prometheus.Counter
	httpStatus         *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homeops_sync_runs_total",
			Help: "結果別のディレクトリ同期実行回数",
		}, []string{"result"}),
		syncRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homeops_sync_records_total",
			Help: "処理結果別の同期レコード数",
		}, []string{"outcome"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "homeops_sync_duration_seconds",
			Help:    "ディレクトリ同期1回の所要時間（秒）",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		roleLookupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "homeops_role_lookup_failures_total",
			Help: "グループ所属照会に失敗し非特権として扱った回数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homeops_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.syncRuns,
		c.syncRecords,
		c.syncDuration,
		c.roleLookupFailures,
		c.httpStatus,
	)

	return c
}

// RecordSyncRun は同期1回の結果と所要時間を記録する。
func (c *Collector) RecordSyncRun(result string, duration time.Duration) {
	c.syncRuns.WithLabelValues(result).Inc()
	c.syncDuration.Observe(duration.Seconds())
}

// RecordSyncRecord は1レコードの処理結果を記録する。
func (c *Collector) RecordSyncRecord(outcome string) {
	c.syncRecords.WithLabelValues(outcome).Inc()
}

// RecordRoleLookupFailure はグループ所属照会の失敗を記録する。
func (c *Collector) RecordRoleLookupFailure() {
	c.roleLookupFailures.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないレコーダー。メトリクスを使わないテストやCLIで使う。
type Nop struct{}

func (Nop) RecordSyncRun(string, time.Duration) {}
func (Nop) RecordSyncRecord(string)             {}
func (Nop) RecordRoleLookupFailure()            {}
func (Nop) RecordHTTPStatus(int)                {}

// compile-time interface check
var (
	_ SyncRecorder = (*Collector)(nil)
	_ HTTPRecorder = (*Collector)(nil)
	_ SyncRecorder = Nop{}
	_ HTTPRecorder = Nop{}
)
