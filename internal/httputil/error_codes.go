package httputil

// API 錯誤代碼常數，放在錯誤回應的 code 欄位.
const (
	// 2000-2999: 參數相關錯誤 (400 Bad Request).
	ErrorCodeInvalidParameter = 2001
	ErrorCodeValidationFailed = 2002

	// 5000-5999: 處理相關錯誤 (500 / 503).
	ErrorCodeProcessingFailed    = 5001
	ErrorCodeUpstreamUnavailable = 5003
)
