package httputil

// SuccessResponse 成功回應結構.
type SuccessResponse struct {
	Success bool        `json:"success"`
	Message interface{} `json:"message,omitempty"`
}

// NewSuccessResponse 創建成功回應；message 欄位可以是文字也可以是資源本身.
func NewSuccessResponse(message interface{}) *SuccessResponse {
	return &SuccessResponse{Success: true, Message: message}
}
