package model

import (
	"strings"
	"time"
)

// TimestampLayout はAPIで扱うISO-8601表現（UTC・ミリ秒精度）。
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// UnknownTimestamp は公開日時が不明な記事に設定する番兵値。
const UnknownTimestamp = "1970-01-01T00:00:00.000Z"

// FormatTimestamp は時刻をUTCのISO-8601文字列に変換する。
// ゼロ値は UnknownTimestamp になる。
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return UnknownTimestamp
	}
	return t.UTC().Format(TimestampLayout)
}

// timestampLayouts はフィードに現れる日時表現の候補。
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	TimestampLayout,
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC850,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp は日時文字列を解釈する。解釈できない場合はfalseを返す。
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// NormalizeTimestamp は日時文字列を正規化する。解釈できない場合は番兵値を返す。
func NormalizeTimestamp(s string) string {
	t, ok := ParseTimestamp(s)
	if !ok {
		return UnknownTimestamp
	}
	return FormatTimestamp(t)
}

// TimestampInstant は正規化済みの日時文字列をソート用の時刻に戻す。
// 解釈できない値はUnixエポック（最古）として扱う。
func TimestampInstant(s string) time.Time {
	t, ok := ParseTimestamp(s)
	if !ok {
		return time.Unix(0, 0).UTC()
	}
	return t
}
