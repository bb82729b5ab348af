package errors

import (
	"fmt"

	"github.com/tiervault/tiervault/internal/i18n"
)

// ErrorCode 错误码类型
type ErrorCode int

// 定义错误码常量
const (
	// 通用错误码 (1000-1999)
	ErrSuccess            ErrorCode = 0    // 成功
	ErrInternalServer     ErrorCode = 1000 // 服务器内部错误
	ErrInvalidParams      ErrorCode = 1001 // 参数错误
	ErrNotFound           ErrorCode = 1002 // 资源未找到
	ErrTooManyRequests    ErrorCode = 1003 // 请求过于频繁
	ErrServiceUnavailable ErrorCode = 1004 // 服务不可用

	// 请求台账相关错误码 (2000-2999)
	ErrRequestNotFound     ErrorCode = 2000 // 请求未找到
	ErrRequestConflict     ErrorCode = 2001 // 请求状态冲突
	ErrRequestNotRetryable ErrorCode = 2002 // 请求当前状态不可重试
	ErrReferenceNotFound   ErrorCode = 2003 // 文件引用未找到
	ErrOwnerNotFound       ErrorCode = 2004 // 属主未找到
	ErrInvalidTransition   ErrorCode = 2005 // 非法的请求状态迁移

	// 存储后端相关错误码 (3000-3999)
	ErrStorageUnknown      ErrorCode = 3000 // 存储位置未知
	ErrStorageDisabled     ErrorCode = 3001 // 存储位置已禁用
	ErrStorageUnavailable  ErrorCode = 3002 // 存储位置不可用
	ErrStorageDriverFailed ErrorCode = 3003 // 存储驱动执行失败
	ErrStorageRejected     ErrorCode = 3004 // 存储驱动拒绝了请求

	// 数据库相关错误码 (4000-4999)
	ErrDatabaseConnection  ErrorCode = 4000 // 数据库连接错误
	ErrDatabaseQuery       ErrorCode = 4001 // 数据库查询错误
	ErrDatabaseInsert      ErrorCode = 4002 // 数据库插入错误
	ErrDatabaseUpdate      ErrorCode = 4003 // 数据库更新错误
	ErrDatabaseDelete      ErrorCode = 4004 // 数据库删除错误
	ErrDatabaseTransaction ErrorCode = 4005 // 数据库事务错误
	ErrRecordNotFound      ErrorCode = 4006 // 记录未找到

	// 缓存相关错误码 (5000-5999)
	ErrCacheCapacityExceeded ErrorCode = 5000 // 缓存容量不足
	ErrCacheFileNotFound     ErrorCode = 5001 // 缓存文件未找到
	ErrCacheRestoreFailed    ErrorCode = 5002 // 缓存恢复失败

	// 分组与准入相关错误码 (6000-6999)
	ErrGroupNotFound     ErrorCode = 6000 // 分组未找到
	ErrGroupSizeExceeded ErrorCode = 6001 // 分组文件数超过上限
	ErrGroupAlreadyDone  ErrorCode = 6002 // 分组已达终态
)

// AppError 应用错误结构体
// @Description 应用程序统一错误格式
type AppError struct {
	// 错误码
	Code ErrorCode `json:"code"`
	// 错误消息
	Message string `json:"message"`
	// 详细错误信息
	Details string `json:"details,omitempty"`
	// 原始错误
	OriginalError error `json:"-"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%d] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// WithDetails 添加详细错误信息
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithOriginalError 添加原始错误
func (e *AppError) WithOriginalError(err error) *AppError {
	e.OriginalError = err
	if e.Details == "" && err != nil {
		e.Details = err.Error()
	}
	return e
}

// New 创建新的应用错误
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// NewWithDetails 创建带详细信息的应用错误
func NewWithDetails(code ErrorCode, message string, details string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Wrap 包装原始错误
func Wrap(code ErrorCode, message string, err error) *AppError {
	appErr := &AppError{
		Code:          code,
		Message:       message,
		OriginalError: err,
	}
	if err != nil {
		appErr.Details = err.Error()
	}
	return appErr
}

// IsAppError 判断是否为应用错误
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError 获取应用错误
func GetAppError(err error) (*AppError, bool) {
	appErr, ok := err.(*AppError)
	return appErr, ok
}

// 预定义的常用错误
var (
	// 通用错误
	ErrInternalServerError = New(ErrInternalServer, GetErrorMessage(ErrInternalServer))
	ErrInvalidParameters   = New(ErrInvalidParams, GetErrorMessage(ErrInvalidParams))
	ErrResourceNotFound    = New(ErrNotFound, GetErrorMessage(ErrNotFound))

	// 请求台账相关错误
	ErrRequestNotFoundError     = New(ErrRequestNotFound, GetErrorMessage(ErrRequestNotFound))
	ErrRequestConflictError     = New(ErrRequestConflict, GetErrorMessage(ErrRequestConflict))
	ErrRequestNotRetryableError = New(ErrRequestNotRetryable, GetErrorMessage(ErrRequestNotRetryable))
	ErrReferenceNotFoundError   = New(ErrReferenceNotFound, GetErrorMessage(ErrReferenceNotFound))
	ErrInvalidTransitionError   = New(ErrInvalidTransition, GetErrorMessage(ErrInvalidTransition))

	// 存储后端相关错误
	ErrStorageUnknownError      = New(ErrStorageUnknown, GetErrorMessage(ErrStorageUnknown))
	ErrStorageDisabledError     = New(ErrStorageDisabled, GetErrorMessage(ErrStorageDisabled))
	ErrStorageUnavailableError  = New(ErrStorageUnavailable, GetErrorMessage(ErrStorageUnavailable))
	ErrStorageDriverFailedError = New(ErrStorageDriverFailed, GetErrorMessage(ErrStorageDriverFailed))

	// 数据库相关错误
	ErrDatabaseQueryError  = New(ErrDatabaseQuery, GetErrorMessage(ErrDatabaseQuery))
	ErrRecordNotFoundError = New(ErrRecordNotFound, GetErrorMessage(ErrRecordNotFound))

	// 缓存相关错误
	ErrCacheCapacityExceededError = New(ErrCacheCapacityExceeded, GetErrorMessage(ErrCacheCapacityExceeded))
	ErrCacheFileNotFoundError     = New(ErrCacheFileNotFound, GetErrorMessage(ErrCacheFileNotFound))

	// 分组相关错误
	ErrGroupNotFoundError     = New(ErrGroupNotFound, GetErrorMessage(ErrGroupNotFound))
	ErrGroupSizeExceededError = New(ErrGroupSizeExceeded, GetErrorMessage(ErrGroupSizeExceeded))
)

// 错误码到i18n键的映射
var errorCodeToKeyMap = map[ErrorCode]string{
	ErrSuccess:            "success",
	ErrInternalServer:     "internal_server_error",
	ErrInvalidParams:      "invalid_params",
	ErrNotFound:           "not_found",
	ErrTooManyRequests:    "too_many_requests",
	ErrServiceUnavailable: "service_unavailable",

	ErrRequestNotFound:     "request_not_found",
	ErrRequestConflict:     "request_conflict",
	ErrRequestNotRetryable: "request_not_retryable",
	ErrReferenceNotFound:   "reference_not_found",
	ErrOwnerNotFound:       "owner_not_found",
	ErrInvalidTransition:   "invalid_transition",

	ErrStorageUnknown:      "storage_unknown",
	ErrStorageDisabled:     "storage_disabled",
	ErrStorageUnavailable:  "storage_unavailable",
	ErrStorageDriverFailed: "storage_driver_failed",
	ErrStorageRejected:     "storage_rejected",

	ErrDatabaseConnection:  "database_connection",
	ErrDatabaseQuery:       "database_query",
	ErrDatabaseInsert:      "database_insert",
	ErrDatabaseUpdate:      "database_update",
	ErrDatabaseDelete:      "database_delete",
	ErrDatabaseTransaction: "database_transaction",
	ErrRecordNotFound:      "record_not_found",

	ErrCacheCapacityExceeded: "cache_capacity_exceeded",
	ErrCacheFileNotFound:     "cache_file_not_found",
	ErrCacheRestoreFailed:    "cache_restore_failed",

	ErrGroupNotFound:     "group_not_found",
	ErrGroupSizeExceeded: "group_size_exceeded",
	ErrGroupAlreadyDone:  "group_already_done",
}

// GetErrorMessage 根据错误码获取错误消息（使用默认语言）
func GetErrorMessage(code ErrorCode) string {
	return GetErrorMessageWithLang(code, i18n.GetInstance().GetDefaultLanguage())
}

// GetErrorMessageWithLang 根据错误码和语言获取错误消息
func GetErrorMessageWithLang(code ErrorCode, lang string) string {
	// 获取错误码对应的i18n键
	key, exists := errorCodeToKeyMap[code]
	if !exists {
		key = "unknown_error"
	}

	// 使用i18n获取翻译
	return i18n.GetInstance().Translate(key, lang)
}
