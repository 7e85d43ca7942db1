// Package api provides the HTTP surface of the gateway.
// Locale negotiation for control-plane error messages.
package api //nolint:revive // package name is intentional

import (
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

// LocaleHeader overrides content negotiation for control-plane messages.
const LocaleHeader = "X-Infergate-Locale"

// supportedLocales lists the locales control-plane messages exist in.
// The first entry is the fallback.
var supportedLocales = []language.Tag{
	language.English,
	language.Chinese,
}

var localeMatcher = language.NewMatcher(supportedLocales)

// detectLocale resolves the response locale: the explicit override header
// wins, then Accept-Language, then English.
func detectLocale(r *http.Request) language.Tag {
	if r == nil {
		return language.English
	}
	if override := strings.TrimSpace(r.Header.Get(LocaleHeader)); override != "" {
		if tag, err := language.Parse(override); err == nil {
			_, idx, _ := localeMatcher.Match(tag)
			return supportedLocales[idx]
		}
		return language.English
	}
	tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, idx, _ := localeMatcher.Match(tags...)
	return supportedLocales[idx]
}

// controlMessages maps control-plane messages to their localized forms,
// keyed by the English text. Untranslated messages pass through.
var controlMessages = map[language.Tag]map[string]string{
	language.Chinese: {
		"invalid request body":                "请求体无效",
		"request body too large":              "请求体过大",
		"authentication required":             "需要认证",
		"invalid or expired token":            "令牌无效或已过期",
		"rate limit exceeded":                 "请求频率超限",
		"id parameter is required":            "缺少参数：id",
		"stage is required":                   "缺少参数：stage",
		"stages is required":                  "缺少参数：stages",
		"unknown stage":                       "未知的流水线阶段",
		"kind is required":                    "缺少参数：kind",
		"model is required":                   "缺少参数：model",
		"older_than_days must be positive":    "older_than_days 必须为正数",
		"decision record not found":           "未找到该决策记录",
		"failed to list decision records":     "获取决策记录列表失败",
		"failed to get decision record":       "获取决策记录失败",
		"failed to get decision stats":        "获取决策统计失败",
		"failed to delete decision records":   "删除决策记录失败",
		"failed to read performance metrics":  "读取性能指标失败",
		"failed to reset performance metrics": "重置性能指标失败",
		"routing failed":                      "路由失败",
		"config manager not available":        "配置管理器不可用",
		"config checksum mismatch":            "配置校验和不匹配",
		"configuration reload failed":         "配置重载失败",
		"audit log is disabled":               "审计日志未启用",
	},
}

// localizeMessage returns message in the given locale, falling back to
// the original text when no translation exists.
func localizeMessage(tag language.Tag, message string) string {
	table, ok := controlMessages[tag]
	if !ok {
		return message
	}
	if translated, ok := table[message]; ok {
		return translated
	}
	return message
}

// writeControlError writes a control-plane error localized for the caller.
func writeControlError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Message: localizeMessage(detectLocale(r), message),
			Type:    "api_error",
		},
	})
}
