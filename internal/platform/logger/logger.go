package logger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"medchat-gateway/internal/platform/config"

	"github.com/google/uuid"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Severity GCP Cloud Logging 嚴重級別
type Severity string

const (
	SeverityDebug    Severity = "DEBUG"
	SeverityInfo     Severity = "INFO"
	SeverityNotice   Severity = "NOTICE"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// LogEntry 單筆日誌的結構化欄位，由 LogOption 填入後交給 zap 輸出.
type LogEntry struct {
	HTTPRequest    *HTTPRequest
	SourceLocation *SourceLocation
	Labels         map[string]string
	UserID         string
	CounterpartID  string
	MessageID      string
	ConnectionID   string
	Action         string
	Details        map[string]interface{}
}

// HTTPRequest HTTP 請求信息
type HTTPRequest struct {
	RequestMethod string `json:"requestMethod,omitempty"`
	RequestURL    string `json:"requestUrl,omitempty"`
	Status        int    `json:"status,omitempty"`
	UserAgent     string `json:"userAgent,omitempty"`
	RemoteIP      string `json:"remoteIp,omitempty"`
	Latency       string `json:"latency,omitempty"` // 格式: "1.234s"
}

// SourceLocation 源代碼位置
type SourceLocation struct {
	File     string `json:"file,omitempty"`
	Line     int64  `json:"line,omitempty"`
	Function string `json:"function,omitempty"`
}

type traceKey struct{}

var (
	mu          sync.RWMutex
	base        = newLogger(zapcore.Lock(os.Stdout), zapcore.DebugLevel)
	rotator     *rotatelogs.RotateLogs
	projectID   = "local-dev"
	serviceName = "medchat-gateway"
)

// encoderConfig 輸出 GCP 格式欄位：severity 由 Log 自行寫入.
func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		MessageKey:     "message",
		TimeKey:        "timestamp",
		EncodeTime:     utcTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		LineEnding:     zapcore.DefaultLineEnding,
	}
}

func utcTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format(time.RFC3339Nano))
}

func newLogger(ws zapcore.WriteSyncer, level zapcore.LevelEnabler) *zap.Logger {
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), ws, level)
	return zap.New(core)
}

// InitLogger 初始化 GCP 格式日誌系統（stdout + 輪轉檔案）
func InitLogger() error {
	cfg := config.Get()

	logDir := os.Getenv("LOG_PATH")
	if logDir == "" && cfg != nil {
		logDir = cfg.Log.Path
	}
	if logDir == "" {
		logDir = "./logs"
	}

	if id := os.Getenv("GCP_PROJECT_ID"); id != "" {
		projectID = id
	}
	if name := os.Getenv("SERVICE_NAME"); name != "" {
		serviceName = name
	} else if cfg != nil && cfg.App.Name != "" {
		serviceName = cfg.App.Name
	}

	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return err
	}

	rotationTime := 24
	maxAge := 30
	maxSize := 100
	level := "info"
	if cfg != nil {
		if cfg.Log.RotationTimeHours > 0 {
			rotationTime = cfg.Log.RotationTimeHours
		}
		if cfg.Log.MaxAgeDays > 0 {
			maxAge = cfg.Log.MaxAgeDays
		}
		if cfg.Log.MaxSizeMB > 0 {
			maxSize = cfg.Log.MaxSizeMB
		}
		if cfg.Log.Level != "" {
			level = cfg.Log.Level
		}
	}

	logFileName := filepath.Join(logDir, "app.log")
	writer, err := rotatelogs.New(
		logFileName+".%Y%m%d",
		rotatelogs.WithLinkName(logFileName),
		rotatelogs.WithRotationTime(time.Duration(rotationTime)*time.Hour),
		rotatelogs.WithMaxAge(time.Duration(maxAge)*24*time.Hour),
		rotatelogs.WithRotationSize(int64(maxSize)*1024*1024),
	)
	if err != nil {
		return err
	}

	ws := zapcore.NewMultiWriteSyncer(zapcore.AddSync(writer), zapcore.Lock(os.Stdout))

	mu.Lock()
	rotator = writer
	base = newLogger(ws, parseLevel(level))
	mu.Unlock()

	return nil
}

// parseLevel 將設定字串轉為 zap 級別.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warning", "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// SetCore 替換底層 zap core（測試用）.
func SetCore(core zapcore.Core) {
	mu.Lock()
	base = zap.New(core)
	mu.Unlock()
}

// Zap 取得底層 zap logger，供需要 *zap.Logger 的元件使用.
func Zap() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// CloseLogger 關閉日誌檔案
func CloseLogger() {
	mu.Lock()
	defer mu.Unlock()

	_ = base.Sync()
	if rotator != nil {
		if err := rotator.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to close logger: %v\n", err)
		}
		rotator = nil
	}
}

// getSourceLocation 獲取源代碼位置
func getSourceLocation(skip int) *SourceLocation {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return nil
	}

	funcName := "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		funcName = fn.Name()
	}

	return &SourceLocation{
		File:     filepath.Base(file),
		Line:     int64(line),
		Function: funcName,
	}
}

// GetTraceID 從 context 獲取 trace ID
func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(traceKey{}).(string); ok {
		return formatTraceID(traceID)
	}
	return ""
}

// formatTraceID 格式化 trace ID 為 GCP 格式
func formatTraceID(traceID string) string {
	if traceID == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/traces/%s", projectID, traceID)
}

// NewTraceID 生成新的 trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID 將 trace ID 添加到 context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

func zapLevel(severity Severity) zapcore.Level {
	switch severity {
	case SeverityDebug:
		return zapcore.DebugLevel
	case SeverityWarning:
		return zapcore.WarnLevel
	case SeverityError, SeverityCritical:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Log 通用日誌方法
func Log(ctx context.Context, severity Severity, message string, opts ...LogOption) {
	l := Zap()
	ce := l.Check(zapLevel(severity), message)
	if ce == nil {
		return
	}

	entry := &LogEntry{
		SourceLocation: getSourceLocation(3),
		Labels:         map[string]string{"service": serviceName},
	}
	for _, opt := range opts {
		opt(entry)
	}

	fields := []zap.Field{
		zap.String("severity", string(severity)),
		zap.String("insertId", uuid.New().String()),
		zap.Any("labels", entry.Labels),
	}
	if trace := GetTraceID(ctx); trace != "" {
		fields = append(fields, zap.String("trace", trace))
	}
	if entry.SourceLocation != nil {
		fields = append(fields, zap.Any("sourceLocation", entry.SourceLocation))
	}
	if entry.HTTPRequest != nil {
		fields = append(fields, zap.Any("httpRequest", entry.HTTPRequest))
	}
	if entry.UserID != "" {
		fields = append(fields, zap.String("userId", entry.UserID))
	}
	if entry.CounterpartID != "" {
		fields = append(fields, zap.String("counterpartId", entry.CounterpartID))
	}
	if entry.MessageID != "" {
		fields = append(fields, zap.String("messageId", entry.MessageID))
	}
	if entry.ConnectionID != "" {
		fields = append(fields, zap.String("connectionId", entry.ConnectionID))
	}
	if entry.Action != "" {
		fields = append(fields, zap.String("action", entry.Action))
	}
	if len(entry.Details) > 0 {
		fields = append(fields, zap.Any("details", entry.Details))
	}

	ce.Write(fields...)
}

// LogOption 日誌選項
type LogOption func(*LogEntry)

// WithUserID 添加用戶 ID
func WithUserID(userID string) LogOption {
	return func(e *LogEntry) {
		e.UserID = userID
	}
}

// WithCounterpartID 添加對話另一方的用戶 ID
func WithCounterpartID(userID string) LogOption {
	return func(e *LogEntry) {
		e.CounterpartID = userID
	}
}

// WithMessageID 添加消息 ID
func WithMessageID(messageID string) LogOption {
	return func(e *LogEntry) {
		e.MessageID = messageID
	}
}

// WithConnectionID 添加即時連線 ID
func WithConnectionID(connID string) LogOption {
	return func(e *LogEntry) {
		e.ConnectionID = connID
	}
}

// WithAction 添加操作
func WithAction(action string) LogOption {
	return func(e *LogEntry) {
		e.Action = action
	}
}

// WithDetails 添加詳細信息
func WithDetails(details map[string]interface{}) LogOption {
	return func(e *LogEntry) {
		e.Details = details
	}
}

// WithHTTPRequest 添加 HTTP 請求信息
func WithHTTPRequest(req *HTTPRequest) LogOption {
	return func(e *LogEntry) {
		e.HTTPRequest = req
	}
}

// WithLabels 添加標籤
func WithLabels(labels map[string]string) LogOption {
	return func(e *LogEntry) {
		if e.Labels == nil {
			e.Labels = make(map[string]string)
		}
		for k, v := range labels {
			e.Labels[k] = v
		}
	}
}

// Debug 記錄 DEBUG 級別日誌
func Debug(ctx context.Context, message string, opts ...LogOption) {
	Log(ctx, SeverityDebug, message, opts...)
}

// Info 記錄 INFO 級別日誌
func Info(ctx context.Context, message string, opts ...LogOption) {
	Log(ctx, SeverityInfo, message, opts...)
}

// Notice 記錄 NOTICE 級別日誌
func Notice(ctx context.Context, message string, opts ...LogOption) {
	Log(ctx, SeverityNotice, message, opts...)
}

// Warning 記錄 WARNING 級別日誌
func Warning(ctx context.Context, message string, opts ...LogOption) {
	Log(ctx, SeverityWarning, message, opts...)
}

// Error 記錄 ERROR 級別日誌
func Error(ctx context.Context, message string, opts ...LogOption) {
	Log(ctx, SeverityError, message, opts...)
}

// Critical 記錄 CRITICAL 級別日誌
func Critical(ctx context.Context, message string, opts ...LogOption) {
	Log(ctx, SeverityCritical, message, opts...)
}

// Infof 格式化 INFO 日誌
func Infof(ctx context.Context, format string, args ...interface{}) {
	Log(ctx, SeverityInfo, fmt.Sprintf(format, args...))
}

// Errorf 格式化 ERROR 日誌
func Errorf(ctx context.Context, format string, args ...interface{}) {
	Log(ctx, SeverityError, fmt.Sprintf(format, args...))
}
