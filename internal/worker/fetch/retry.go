package fetch

import (
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// FetchResult はHTTPステータスコードに基づくフェッチ結果の分類。
type FetchResult int

const (
	// FetchResultOK はフェッチ成功（2xx）。
	FetchResultOK FetchResult = iota
	// FetchResultNotModified はコンテンツ未変更（304）。
	FetchResultNotModified
	// FetchResultStop は同じURLを再試行しても無駄なステータス（404/410/401/403）。
	FetchResultStop
	// FetchResultBackoff は時間をおくべきステータス（429/5xx）。
	FetchResultBackoff
	// FetchResultUnknown は未知のステータスコード。
	FetchResultUnknown
)

const (
	// initialBackoff はスケジューラが失敗した配信元を休ませる初回時間。
	initialBackoff = 30 * time.Minute
	// maxBackoff はスケジューラのバックオフ上限。
	maxBackoff = 12 * time.Hour

	// maxRetryAfterWait は429応答のRetry-Afterに従って待つ最大時間。
	maxRetryAfterWait = 3 * time.Second
	// maxRetryJitter は429再試行に加えるゆらぎの上限。
	maxRetryJitter = 500 * time.Millisecond
)

// ClassifyHTTPStatus はHTTPステータスコードをフェッチ結果に分類する。
func ClassifyHTTPStatus(statusCode int) FetchResult {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return FetchResultOK
	case statusCode == http.StatusNotModified:
		return FetchResultNotModified
	case statusCode == 404 || statusCode == 410:
		return FetchResultStop
	case statusCode == 401 || statusCode == 403:
		return FetchResultStop
	case statusCode == http.StatusTooManyRequests:
		return FetchResultBackoff
	case statusCode >= 500:
		return FetchResultBackoff
	default:
		return FetchResultUnknown
	}
}

// String はログ・メトリクスのラベルに使う名前を返す。
func (r FetchResult) String() string {
	switch r {
	case FetchResultOK:
		return "ok"
	case FetchResultNotModified:
		return "not_modified"
	case FetchResultStop:
		return "stop"
	case FetchResultBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// CalculateBackoff は連続エラー回数に基づいて指数バックオフ遅延を計算する。
// 初回30分、2倍ずつ増加、最大12時間。
func CalculateBackoff(consecutiveErrors int) time.Duration {
	delay := initialBackoff
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// ParseRetryAfter はRetry-Afterヘッダ（秒数またはHTTP日付）を待ち時間に変換する。
// 解釈できない場合はfalseを返す。秒数は maxRetryAfterWait で頭打ちにする。
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		if secs > int(maxRetryAfterWait/time.Second) {
			return maxRetryAfterWait, true
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(value); err == nil {
		wait := t.Sub(now)
		if wait < 0 {
			return 0, true
		}
		return wait, true
	}
	return 0, false
}

// RetryDelay は429再試行までの待ち時間を返す。
// Retry-Afterの値はmaxWaitで頭打ちにし、jitterを加える。
func RetryDelay(retryAfter, maxWait, jitter time.Duration) time.Duration {
	if retryAfter < 0 || retryAfter > maxWait {
		retryAfter = maxWait
	}
	return retryAfter + jitter
}

// randomJitter は0から maxRetryJitter 未満の乱数を返す。
func randomJitter() time.Duration {
	return rand.N(maxRetryJitter)
}
