// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

// Package xerror provides typed errors shared by the services and the API.
// Every constructed error is logged, counted and reported to sentry.
package xerror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vpnhouse/ratio/pkg/version"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var errorsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace:   "ratio",
	Subsystem:   "errors",
	Name:        "total",
	Help:        "number of errors and warnings partitioned by result code and origin",
	ConstLabels: prometheus.Labels{"version": version.GetTag()},
}, []string{"result", "label", "caller"})

func init() {
	prometheus.MustRegister(errorsCounter)
}

// ErrorResult is the machine-readable error code returned to API clients.
type ErrorResult string

const (
	ErrorResultInternalError        ErrorResult = "INTERNAL_ERROR"
	ErrorResultInvalidArgument      ErrorResult = "INVALID_ARGUMENT"
	ErrorResultNotFound             ErrorResult = "NOT_FOUND"
	ErrorResultStorageError         ErrorResult = "STORAGE_ERROR"
	ErrorResultUnauthorized         ErrorResult = "UNAUTHORIZED"
	ErrorResultAuthFailed           ErrorResult = "AUTH_FAILED"
	ErrorResultServiceUnavailable   ErrorResult = "SERVICE_UNAVAILABLE"
	ErrorResultInvalidConfiguration ErrorResult = "INVALID_CONFIGURATION"
	ErrorResultUnknown              ErrorResult = "UNKNOWN_ERROR"
)

// Response is the JSON body of an error reply.
type Response struct {
	Result  ErrorResult `json:"result"`
	Error   *string     `json:"error,omitempty"`
	Details *string     `json:"details,omitempty"`
	Field   *string     `json:"field,omitempty"`
}

// ErrorType is the class of an error: its HTTP status and result code.
// Secret types never expose the nested error to the client.
type ErrorType struct {
	httpCode int
	result   ErrorResult
	secret   bool
}

var (
	EInternalErrorType        = &ErrorType{http.StatusInternalServerError, ErrorResultInternalError, true}
	EInvalidArgumentType      = &ErrorType{http.StatusBadRequest, ErrorResultInvalidArgument, false}
	EEntryNotFoundType        = &ErrorType{http.StatusNotFound, ErrorResultNotFound, false}
	EStorageErrorType         = &ErrorType{http.StatusInternalServerError, ErrorResultStorageError, false}
	EUnauthorizedType         = &ErrorType{http.StatusUnauthorized, ErrorResultUnauthorized, true}
	EAuthenticationFailedType = &ErrorType{http.StatusUnauthorized, ErrorResultAuthFailed, true}
	EUnavailableType          = &ErrorType{http.StatusServiceUnavailable, ErrorResultServiceUnavailable, false}
	EInvalidConfigurationType = &ErrorType{http.StatusInternalServerError, ErrorResultInvalidConfiguration, false}
)

func EInternalError(description string, err error, fields ...zap.Field) *Error {
	return report(newError(EInternalErrorType, description, err), fields...)
}

func WInternalError(label, description string, err error, fields ...zap.Field) *Error {
	return report(newError(EInternalErrorType, description, err).warning(label), fields...)
}

func EInvalidArgument(description string, err error, fields ...zap.Field) *Error {
	return report(newError(EInvalidArgumentType, description, err), fields...)
}

func EInvalidField(description string, failedField string, err error, fields ...zap.Field) *Error {
	return report(newError(EInvalidArgumentType, description, err).field(failedField), fields...)
}

func EEntryNotFound(description string, err error, fields ...zap.Field) *Error {
	return report(newError(EEntryNotFoundType, description, err), fields...)
}

func EStorageError(description string, err error, fields ...zap.Field) *Error {
	return report(newError(EStorageErrorType, description, err), fields...)
}

func EUnauthorized(description string, err error, fields ...zap.Field) *Error {
	return report(newError(EUnauthorizedType, description, err), fields...)
}

func EAuthenticationFailed(description string, err error, fields ...zap.Field) *Error {
	return report(newError(EAuthenticationFailedType, description, err), fields...)
}

func EUnavailable(description string, err error, fields ...zap.Field) *Error {
	return report(newError(EUnavailableType, description, err), fields...)
}

func WUnavailable(label, description string, err error, fields ...zap.Field) *Error {
	return report(newError(EUnavailableType, description, err).warning(label), fields...)
}

func EInvalidConfiguration(description string, field string) *Error {
	return report(newError(EInvalidConfigurationType, description, nil).field(field))
}

type Error struct {
	errorType   *ErrorType
	description string
	nestedError error
	failedField *string

	// non-empty for warnings
	warningLabel string
}

func newError(errorType *ErrorType, description string, err error) *Error {
	return &Error{
		errorType:   errorType,
		description: description,
		nestedError: err,
	}
}

func (e *Error) warning(label string) *Error {
	if len(label) == 0 {
		label = "unset"
	}
	e.warningLabel = label
	return e
}

func (e *Error) field(name string) *Error {
	e.failedField = &name
	return e
}

func (e *Error) Is(target error) bool {
	if err2, ok := target.(*Error); ok {
		return e.errorType == err2.errorType
	}

	return false
}

func (e *Error) Unwrap() error {
	return e.nestedError
}

func (e *Error) Error() string {
	text := e.description
	if e.nestedError != nil {
		text = text + ": " + e.nestedError.Error()
	}
	return text
}

// Type returns the error class, e.g. EInvalidArgumentType.
func (e *Error) Type() *ErrorType {
	return e.errorType
}

// Result returns the API result code of the error.
func (e *Error) Result() ErrorResult {
	return e.errorType.result
}

// Response builds the reply body for the API clients.
func (e *Error) Response() *Response {
	resp := &Response{
		Result: e.errorType.result,
		Error:  &e.description,
	}
	if e.errorType.secret {
		return resp
	}

	resp.Field = e.failedField
	if e.nestedError != nil {
		details := e.nestedError.Error()
		resp.Details = &details
	}
	return resp
}

// ErrorToResponse converts any error into the reply body,
// errors of foreign types are reported as unknown.
func ErrorToResponse(err error) (int, *Response) {
	var e *Error
	if errors.As(err, &e) {
		return e.errorType.httpCode, e.Response()
	}

	msg := err.Error()
	return http.StatusInternalServerError, &Response{
		Result: ErrorResultUnknown,
		Error:  &msg,
	}
}

// ErrorToHttpResponse returns http status code and body bytes.
func ErrorToHttpResponse(err error) (int, []byte) {
	code, resp := ErrorToResponse(err)
	bs, mErr := json.MarshalIndent(resp, "", "  ")
	if mErr != nil {
		zap.L().Fatal("can't marshal error", zap.Any("response", resp), zap.Error(mErr))
	}
	return code, bs
}

func report(e *Error, fields ...zap.Field) *Error {
	level := sentry.LevelError
	logFn := zap.L().Error
	if len(e.warningLabel) > 0 {
		level = sentry.LevelWarning
		logFn = zap.L().Warn
	}

	errorsCounter.WithLabelValues(string(e.errorType.result), e.warningLabel, getCaller()).Inc()
	sendToSentry(e, level, fields...)
	logFn(e.Error(), fields...)
	return e
}

// sendToSentry fills the scope with error-related fields
// and pushes the error within that scope.
func sendToSentry(e *Error, level sentry.Level, fields ...zap.Field) {
	sentry.CurrentHub().WithScope(func(scope *sentry.Scope) {
		scope.SetTag("err_type", string(e.errorType.result))
		scope.SetLevel(level)

		if e.failedField != nil {
			scope.SetExtra("failed_field", *e.failedField)
		}
		if len(e.warningLabel) > 0 {
			scope.SetExtra("warn_label", e.warningLabel)
		}

		if len(fields) > 0 {
			encoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{})
			if buf, err := encoder.EncodeEntry(zapcore.Entry{}, fields); err == nil {
				scope.SetExtra("zap_fields", buf.String())
			}
		}

		if e.nestedError == nil {
			sentry.CaptureMessage(e.description)
			return
		}
		scope.SetExtra("message", e.description)
		sentry.CaptureException(e.nestedError)
	})
}

func getCaller() string {
	// skip report() and the constructor, so (srcFile, line) points
	// to the one who invoked xerror.EInternalError(...)
	_, srcFile, line, ok := runtime.Caller(3)
	if !ok {
		return "unknown"
	}

	return fmt.Sprintf("%s:%d", cutCallerFilePath(srcFile), line)
}

// /home/user/src/project/package/foo.go -> package/foo.go
func cutCallerFilePath(file string) string {
	oneSlash := false
	for i := len(file) - 1; i > 0; i-- {
		if file[i] == os.PathSeparator {
			if oneSlash {
				return file[i+1:]
			}
			oneSlash = true
		}
	}
	return file
}
