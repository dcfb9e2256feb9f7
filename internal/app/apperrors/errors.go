// Package apperrors はパイプライン全体で共有するエラー分類を定義します。
package apperrors

import (
	"errors"
	"fmt"
)

// Kind はエラーの種別です。ログの "kind" フィールドにそのまま出力されます。
type Kind string

const (
	KindSourceAuth          Kind = "source_auth"
	KindRateLimited         Kind = "rate_limited"
	KindParse               Kind = "parse"
	KindDestinationNotFound Kind = "destination_not_found"
	KindPermissionDenied    Kind = "permission_denied"
	KindDatabase            Kind = "database"
	KindUnknown             Kind = "unknown"
)

var (
	ErrSourceAuth          = errors.New("source rejected session credential")
	ErrRateLimited         = errors.New("rate limited by source")
	ErrParse               = errors.New("unexpected page shape")
	ErrDestinationNotFound = errors.New("report destination not found")
	ErrPermissionDenied    = errors.New("permission denied on report destination")
	ErrDatabase            = errors.New("database error")
)

var sentinels = map[Kind]error{
	KindSourceAuth:          ErrSourceAuth,
	KindRateLimited:         ErrRateLimited,
	KindParse:               ErrParse,
	KindDestinationNotFound: ErrDestinationNotFound,
	KindPermissionDenied:    ErrPermissionDenied,
	KindDatabase:            ErrDatabase,
}

// Error は種別・操作名・ブランドを付与したエラーです。
type Error struct {
	Kind  Kind
	Op    string
	Brand string
	Err   error
}

// New は Error を作成します。brand が不明な場合は空文字で構いません。
func New(kind Kind, op, brand string, err error) *Error {
	return &Error{Kind: kind, Op: op, Brand: brand, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Brand != "" {
		msg = fmt.Sprintf("%s (brand=%s)", msg, e.Brand)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is により errors.Is(err, ErrRateLimited) のような判定が可能になります。
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// IsRetryable は retry パッケージから参照されます。
func (e *Error) IsRetryable() bool {
	return e.Kind == KindRateLimited
}

// KindOf は err チェーンから最初に見つかった種別を返します。
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	for kind, s := range sentinels {
		if errors.Is(err, s) {
			return kind
		}
	}
	return KindUnknown
}

// IsDestination は送信先が解決できないエラー (実行全体を失敗させるもの) かを判定します。
func IsDestination(err error) bool {
	return errors.Is(err, ErrDestinationNotFound) || errors.Is(err, ErrPermissionDenied)
}
