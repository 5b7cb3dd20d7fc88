package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"medchat-gateway/internal/platform/config"
	"medchat-gateway/internal/platform/logger"
	"medchat-gateway/internal/security/audit"
	"medchat-gateway/internal/storage/database/directory"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// 認證錯誤.
var (
	ErrMissingToken   = errors.New("未提供認證 token")
	ErrInvalidFormat  = errors.New("無效的認證格式")
	ErrInvalidToken   = errors.New("認證失敗")
	ErrAccountBlocked = errors.New("帳號已被停用")
)

// DevUserHeader 未啟用 JWT 時用來指定目前用戶的 header（僅開發環境）.
const DevUserHeader = "X-User-ID"

const currentUserKey = "current_user"

// UserLoader 依 ID 載入用戶.
type UserLoader interface {
	FindByID(ctx context.Context, id string) (*directory.User, error)
}

// JWTMiddleware JWT 驗證中間件
// token 由外部身份服務簽發，這裡只驗證 HS256 簽名並以 sub 作為用戶 ID
type JWTMiddleware struct {
	secretKey []byte
	issuer    string
	enabled   bool
	users     UserLoader
	audit     *audit.AuditService
}

// NewJWTMiddleware 創建 JWT 中間件
func NewJWTMiddleware(cfg config.AuthenticationConfig, users UserLoader, auditor *audit.AuditService) *JWTMiddleware {
	return &JWTMiddleware{
		secretKey: []byte(cfg.JWTSecret),
		issuer:    cfg.Issuer,
		enabled:   cfg.JWTEnabled,
		users:     users,
		audit:     auditor,
	}
}

// Enabled 是否啟用 JWT 驗證.
func (m *JWTMiddleware) Enabled() bool {
	return m.enabled
}

// ParseToken 驗證 token 並返回用戶 ID.
func (m *JWTMiddleware) ParseToken(raw string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return m.secretKey, nil
	}, opts...)
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// TokenFromRequest 從 Authorization header 或 token 查詢參數取出 token.
// 瀏覽器的 WebSocket 無法自訂 header，所以 /ws 允許使用查詢參數.
func TokenFromRequest(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			return "", ErrInvalidFormat
		}
		return parts[1], nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", ErrMissingToken
}

// Authenticate 從請求中識別目前用戶.
// 未啟用 JWT 時以 X-User-ID header（或 userId 查詢參數）識別.
func (m *JWTMiddleware) Authenticate(r *http.Request) (*directory.User, error) {
	var userID string
	if m.enabled {
		raw, err := TokenFromRequest(r)
		if err != nil {
			return nil, err
		}
		if userID, err = m.ParseToken(raw); err != nil {
			return nil, err
		}
	} else {
		userID = r.Header.Get(DevUserHeader)
		if userID == "" {
			userID = r.URL.Query().Get("userId")
		}
		if userID == "" {
			return nil, ErrMissingToken
		}
	}

	user, err := m.users.FindByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: unknown user", ErrInvalidToken)
		}
		return nil, err
	}
	if user.IsBlocked {
		return nil, ErrAccountBlocked
	}
	return user, nil
}

// GinMiddleware Gin HTTP 中間件
// 使用方式：router.Use(jwtMiddleware.GinMiddleware())
func (m *JWTMiddleware) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := m.Authenticate(c.Request)
		if err != nil {
			m.reject(c, err)
			return
		}

		SetCurrentUser(c, user)
		c.Next()
	}
}

func (m *JWTMiddleware) reject(c *gin.Context, err error) {
	code := http.StatusUnauthorized
	message := err.Error()
	switch {
	case errors.Is(err, ErrAccountBlocked):
		code = http.StatusForbidden
	case errors.Is(err, ErrInvalidToken):
		message = ErrInvalidToken.Error()
	case errors.Is(err, ErrMissingToken), errors.Is(err, ErrInvalidFormat):
	default:
		logger.Error(c.Request.Context(), "載入用戶失敗", logger.WithDetails(map[string]interface{}{
			"error": err.Error(),
		}))
		code = http.StatusServiceUnavailable
		message = "服務暫時不可用，請稍後再試"
	}

	switch code {
	case http.StatusForbidden:
		m.audit.LogAccessDenied(c.Request.Context(), "", c.FullPath(), err.Error())
	case http.StatusUnauthorized:
		m.audit.LogAuthenticationFailure(c.Request.Context(), GetClientIP(c), err.Error())
	}
	c.AbortWithStatusJSON(code, gin.H{
		"error":      message,
		"success":    false,
		"request_id": GetRequestID(c),
	})
}

// SetCurrentUser 將用戶存入 gin.Context.
func SetCurrentUser(c *gin.Context, user *directory.User) {
	c.Set(currentUserKey, user)
}

// CurrentUser 取得已驗證的用戶.
func CurrentUser(c *gin.Context) *directory.User {
	if v, ok := c.Get(currentUserKey); ok {
		if user, ok := v.(*directory.User); ok {
			return user
		}
	}
	return nil
}

// GetUserID 取得已驗證用戶的 ID，未驗證時為空字串.
func GetUserID(c *gin.Context) string {
	if user := CurrentUser(c); user != nil {
		return user.ID
	}
	return ""
}

type subjectCtxKey struct{}

// SubjectFromContext 取得 gRPC 呼叫方 token 的 subject.
func SubjectFromContext(ctx context.Context) string {
	sub, _ := ctx.Value(subjectCtxKey{}).(string)
	return sub
}

func isHealthMethod(method string) bool {
	return strings.HasPrefix(method, "/grpc.health.v1.Health/")
}

func (m *JWTMiddleware) authenticateGRPC(ctx context.Context) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Errorf(codes.Unauthenticated, "未提供認證信息")
	}

	values := md.Get("authorization")
	if len(values) == 0 {
		return nil, status.Errorf(codes.Unauthenticated, "未提供認證 token")
	}

	subject, err := m.ParseToken(strings.TrimPrefix(values[0], "Bearer "))
	if err != nil {
		return nil, status.Errorf(codes.Unauthenticated, "認證失敗")
	}
	return context.WithValue(ctx, subjectCtxKey{}, subject), nil
}

// GRPCUnaryInterceptor gRPC 一元 RPC 攔截器
// 使用方式：grpc.NewServer(grpc.UnaryInterceptor(jwtMiddleware.GRPCUnaryInterceptor()))
func (m *JWTMiddleware) GRPCUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		// 健康檢查不需要認證
		if !m.enabled || isHealthMethod(info.FullMethod) {
			return handler(ctx, req)
		}

		ctx, err := m.authenticateGRPC(ctx)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// GRPCStreamInterceptor gRPC 流式 RPC 攔截器
func (m *JWTMiddleware) GRPCStreamInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if !m.enabled || isHealthMethod(info.FullMethod) {
			return handler(srv, ss)
		}

		if _, err := m.authenticateGRPC(ss.Context()); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}
