// Package apierr は各機能パッケージ共通のエラーモデル。
package apierr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT" // 在庫不足・返却済みなど
	CodeUnavailable     Code = "UNAVAILABLE"
	CodeInternal        Code = "INTERNAL"
)

// Reason はクライアントが分岐に使うドメイン固有のサブコード。
// メッセージ文字列での判定はしないこと。
type Reason string

const (
	ReasonOutOfStock         Reason = "OUT_OF_STOCK"
	ReasonAlreadyReturned    Reason = "ALREADY_RETURNED"
	ReasonMemberBlocked      Reason = "MEMBER_BLOCKED"
	ReasonMemberNotActive    Reason = "MEMBER_NOT_ACTIVE"
	ReasonInvalidCredentials Reason = "INVALID_CREDENTIALS"
	ReasonEmailTaken         Reason = "EMAIL_TAKEN"
	ReasonPasswordMismatch   Reason = "PASSWORD_MISMATCH"
	ReasonPasswordTooShort   Reason = "PASSWORD_TOO_SHORT"
	ReasonHasActiveLoans     Reason = "HAS_ACTIVE_LOANS"
)

type APIError struct {
	Code    Code   `json:"code"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s/%s: %s", e.Code, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithReason はサブコードを付けたコピーを返す。
func (e *APIError) WithReason(r Reason) *APIError {
	cp := *e
	cp.Reason = r
	return &cp
}

func ErrInvalid(msg string) *APIError         { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrUnauthenticated(msg string) *APIError { return &APIError{Code: CodeUnauthenticated, Message: msg} }
func ErrForbidden(msg string) *APIError       { return &APIError{Code: CodeForbidden, Message: msg} }
func ErrNotFound(msg string) *APIError        { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrConflict(msg string) *APIError        { return &APIError{Code: CodeConflict, Message: msg} }
func ErrUnavailable(msg string) *APIError     { return &APIError{Code: CodeUnavailable, Message: msg} }
func ErrInternal(msg string) *APIError        { return &APIError{Code: CodeInternal, Message: msg} }

// Is reports whether err is an *APIError with the given code.
func Is(err error, code Code) bool {
	var api *APIError
	return errors.As(err, &api) && api.Code == code
}

// HasReason reports whether err is an *APIError carrying reason r.
func HasReason(err error, r Reason) bool {
	var api *APIError
	return errors.As(err, &api) && api.Reason == r
}

func ToHTTPStatus(err error) int {
	var api *APIError
	if errors.As(err, &api) {
		switch api.Code {
		case CodeInvalidArgument:
			return http.StatusBadRequest
		case CodeUnauthenticated:
			return http.StatusUnauthorized
		case CodeForbidden:
			return http.StatusForbidden
		case CodeNotFound:
			return http.StatusNotFound
		case CodeConflict:
			return http.StatusConflict
		case CodeUnavailable:
			return http.StatusNotImplemented
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}

// ---------- handler helpers ----------

type ErrorDTO struct {
	Error *APIError `json:"error"`
}

func Body(code Code, msg string) ErrorDTO {
	return ErrorDTO{Error: &APIError{Code: code, Message: msg}}
}

// From は内部エラーの詳細を外に漏らさない。APIError 以外は INTERNAL に丸める。
func From(err error) ErrorDTO {
	var api *APIError
	if errors.As(err, &api) {
		return ErrorDTO{Error: api}
	}
	return Body(CodeInternal, "internal error")
}

// Abort writes the error envelope with the mapped status.
func Abort(c *gin.Context, err error) {
	c.AbortWithStatusJSON(ToHTTPStatus(err), From(err))
}

// BadJSON is the common response for bind failures.
func BadJSON(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusBadRequest, Body(CodeInvalidArgument, "invalid json or missing required fields"))
}
