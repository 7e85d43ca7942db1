package api //nolint:revive // package name is intentional

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestDetectLocale_AcceptLanguage(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/routing/metrics", nil)
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	require.Equal(t, language.Chinese, detectLocale(req))

	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	require.Equal(t, language.English, detectLocale(req))

	req.Header.Set("Accept-Language", "fr-FR")
	require.Equal(t, language.English, detectLocale(req), "unsupported locales fall back to English")

	req.Header.Del("Accept-Language")
	require.Equal(t, language.English, detectLocale(req))
}

func TestDetectLocale_OverrideHeaderWins(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/routing/metrics", nil)
	req.Header.Set("Accept-Language", "en-US")
	req.Header.Set(LocaleHeader, "zh")
	require.Equal(t, language.Chinese, detectLocale(req))

	req.Header.Set(LocaleHeader, "not a locale")
	require.Equal(t, language.English, detectLocale(req))
}

func TestLocalizeMessage(t *testing.T) {
	require.Equal(t, "请求频率超限", localizeMessage(language.Chinese, "rate limit exceeded"))
	require.Equal(t, "rate limit exceeded", localizeMessage(language.English, "rate limit exceeded"))
	require.Equal(t, "something bespoke", localizeMessage(language.Chinese, "something bespoke"),
		"untranslated messages pass through")
}

func TestWriteControlError_LocalizesForCaller(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/routing/decision", nil)
	req.Header.Set("Accept-Language", "zh-CN")
	rec := httptest.NewRecorder()
	writeControlError(rec, req, http.StatusBadRequest, "kind is required")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	detail := decodeControlError(t, rec)
	require.Equal(t, "缺少参数：kind", detail.Message)
	require.Equal(t, "api_error", detail.Type)
}
