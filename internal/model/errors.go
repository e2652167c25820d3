package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, feed, store, system
	Action   string // ユーザー向け対処方法
	Detail   string // 初期化エラーなどの補足情報（任意）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeMissingParameter = "MISSING_PARAMETER"
	ErrCodeSourceNotFound   = "SOURCE_NOT_FOUND"
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
	ErrCodeFetchFailed      = "FETCH_FAILED"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeRateLimited      = "RATE_LIMITED"
)

// NewMissingParameterError は必須パラメータ欠落エラーを生成する。
func NewMissingParameterError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingParameter,
		Message:  fmt.Sprintf("必須パラメータが指定されていません: %s", name),
		Category: "validation",
		Action:   fmt.Sprintf("クエリパラメータ %s を指定してください。", name),
	}
}

// NewSourceNotFoundError は配信元未登録エラーを生成する。
func NewSourceNotFoundError(slug string) *APIError {
	return &APIError{
		Code:     ErrCodeSourceNotFound,
		Message:  fmt.Sprintf("指定された配信元は登録されていません: %s", slug),
		Category: "feed",
		Action:   "/api/sources で利用可能な配信元を確認してください。",
	}
}

// NewStoreUnavailableError はレコードストアの初期化失敗エラーを生成する。
// initErr が nil でない場合は Detail に内容を含める。
func NewStoreUnavailableError(initErr error) *APIError {
	apiErr := &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  "キャッシュストアが利用できません。",
		Category: "store",
		Action:   "STORE_DRIVER と接続先の設定を確認してください。",
	}
	if initErr != nil {
		apiErr.Detail = initErr.Error()
	}
	return apiErr
}

// NewFetchFailedError はフィード取得失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("フィードの取得に失敗しました: %s", reason),
		Category: "feed",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-After に示された秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
