// Package i18n 提供国际化支持
// 负责管理应用程序的语言包和翻译功能
package i18n

import (
	"sync"

	"github.com/go-playground/locales/en_US"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/tiervault/tiervault/internal/logger"
)

// 支持的语言
const (
	LangZhCN = "zh-CN"
	LangEnUS = "en-US"
)

var (
	instance *I18n
	once     sync.Once

	// 语言包存储
	translations = map[string]map[string]string{
		LangZhCN: {
			"success":               "成功",
			"internal_server_error": "服务器内部错误",
			"invalid_params":        "参数错误",
			"not_found":             "资源未找到",
			"too_many_requests":     "请求过于频繁",
			"service_unavailable":   "服务不可用",

			"request_not_found":       "请求未找到",
			"request_conflict":        "请求状态冲突",
			"request_not_retryable":   "请求当前状态不可重试",
			"reference_not_found":     "文件引用未找到",
			"owner_not_found":         "属主未找到",
			"invalid_transition":      "非法的请求状态迁移",

			"storage_unknown":       "存储位置未知",
			"storage_disabled":      "存储位置已禁用",
			"storage_unavailable":   "存储位置不可用",
			"storage_driver_failed": "存储驱动执行失败",
			"storage_rejected":      "存储驱动拒绝了请求",

			"database_connection":  "数据库连接错误",
			"database_query":       "数据库查询错误",
			"database_insert":      "数据库插入错误",
			"database_update":      "数据库更新错误",
			"database_delete":      "数据库删除错误",
			"database_transaction": "数据库事务错误",
			"record_not_found":     "记录未找到",

			"cache_capacity_exceeded": "缓存容量不足",
			"cache_file_not_found":    "缓存文件未找到",
			"cache_restore_failed":    "缓存恢复失败",

			"group_not_found":     "分组未找到",
			"group_size_exceeded": "分组文件数超过上限",
			"group_already_done":  "分组已达终态",

			"unknown_error": "未知错误",
		},
		LangEnUS: {
			"success":               "Success",
			"internal_server_error": "Internal Server Error",
			"invalid_params":        "Invalid Parameters",
			"not_found":             "Resource Not Found",
			"too_many_requests":     "Too Many Requests",
			"service_unavailable":   "Service Unavailable",

			"request_not_found":     "Request Not Found",
			"request_conflict":      "Request Status Conflict",
			"request_not_retryable": "Request Not Retryable In Current Status",
			"reference_not_found":   "File Reference Not Found",
			"owner_not_found":       "Owner Not Found",
			"invalid_transition":    "Invalid Request Status Transition",

			"storage_unknown":       "Unknown Storage Location",
			"storage_disabled":      "Storage Location Disabled",
			"storage_unavailable":   "Storage Location Unavailable",
			"storage_driver_failed": "Storage Driver Execution Failed",
			"storage_rejected":      "Request Rejected By Storage Driver",

			"database_connection":  "Database Connection Error",
			"database_query":       "Database Query Error",
			"database_insert":      "Database Insert Error",
			"database_update":      "Database Update Error",
			"database_delete":      "Database Delete Error",
			"database_transaction": "Database Transaction Error",
			"record_not_found":     "Record Not Found",

			"cache_capacity_exceeded": "Cache Capacity Exceeded",
			"cache_file_not_found":    "Cache File Not Found",
			"cache_restore_failed":    "Cache Restoration Failed",

			"group_not_found":     "Group Not Found",
			"group_size_exceeded": "Group Size Limit Exceeded",
			"group_already_done":  "Group Already Resolved",

			"unknown_error": "Unknown Error",
		},
	}
)

// I18n 国际化管理器
type I18n struct {
	translators map[string]ut.Translator
	defaultLang string
}

// GetInstance 获取I18n单例
func GetInstance() *I18n {
	once.Do(func() {
		instance = &I18n{
			translators: make(map[string]ut.Translator),
			defaultLang: LangZhCN,
		}
		instance.initTranslators()
	})
	return instance
}

// initTranslators 初始化翻译器
func (i *I18n) initTranslators() {
	// 创建通用翻译器
	zhCN := zh.New()
	enUS := en_US.New()
	uni := ut.New(zhCN, enUS, zhCN)

	// 注册支持的语言 - 使用locale库的标识符
	langMappings := map[string]string{
		LangZhCN: "zh",    // 中文使用 "zh"
		LangEnUS: "en_US", // 英文使用 "en_US"
	}

	for ourLang, localeLang := range langMappings {
		trans, found := uni.GetTranslator(localeLang)
		if !found {
			logger.Errorf("初始化翻译器失败 for language %s (locale: %s): translator not found", ourLang, localeLang)
			continue
		}
		i.translators[ourLang] = trans
	}

	logger.Info("国际化翻译器初始化完成")
}

// Translate 根据键和语言获取翻译
func (i *I18n) Translate(key, lang string) string {
	// 检查语言是否支持，否则使用默认语言
	_, exists := i.translators[lang]
	if !exists {
		_, exists := i.translators[i.defaultLang]
		if !exists {
			logger.Warnf("未找到翻译器，使用默认文本: %s", key)
			return key
		}
	}

	// 查找翻译
	if translation, found := translations[lang][key]; found {
		return translation
	}

	// 如果当前语言没有找到，尝试在默认语言中查找
	if lang != i.defaultLang {
		if translation, found := translations[i.defaultLang][key]; found {
			return translation
		}
	}

	logger.Warnf("未找到翻译: %s, 语言: %s", key, lang)
	return key
}

// SetDefaultLanguage 设置默认语言
func (i *I18n) SetDefaultLanguage(lang string) {
	i.defaultLang = lang
}

// GetDefaultLanguage 获取默认语言
func (i *I18n) GetDefaultLanguage() string {
	return i.defaultLang
}

// IsSupportedLanguage 检查语言是否支持
func (i *I18n) IsSupportedLanguage(lang string) bool {
	_, exists := i.translators[lang]
	return exists
}

// GetSupportedLanguages 获取支持的语言列表
func (i *I18n) GetSupportedLanguages() []string {
	langs := make([]string, 0, len(i.translators))
	for lang := range i.translators {
		langs = append(langs, lang)
	}
	return langs
}
