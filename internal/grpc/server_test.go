package grpc

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"medchat-gateway/internal/platform/config"
	"medchat-gateway/internal/platform/middleware"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

type delivery struct {
	senderID, receiverID, content, senderName string
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []delivery
}

func (n *recordingNotifier) Deliver(_ context.Context, senderID, receiverID, content, senderName string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, delivery{senderID, receiverID, content, senderName})
}

func (n *recordingNotifier) all() []delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]delivery(nil), n.calls...)
}

func startServer(t *testing.T, pinger Pinger, auth *middleware.JWTMiddleware) (*grpc.ClientConn, *recordingNotifier) {
	t.Helper()
	notifier := &recordingNotifier{}
	srv, err := NewServer(notifier, pinger, auth, Options{MaxMessageLength: 20, HealthInterval: time.Hour})
	if err != nil {
		t.Fatalf("創建服務器失敗: %v", err)
	}

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("連接失敗: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, notifier
}

func deliverReq(t *testing.T, fields map[string]interface{}) *structpb.Struct {
	t.Helper()
	req, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func TestDeliverReachesNotifier(t *testing.T) {
	conn, notifier := startServer(t, nil, nil)

	req := deliverReq(t, map[string]interface{}{
		"senderId":   "system",
		"receiverId": "PAT001",
		"content":    "明天 9 點看診",
	})
	if err := conn.Invoke(context.Background(), DeliverMethod, req, &emptypb.Empty{}); err != nil {
		t.Fatalf("Deliver 失敗: %v", err)
	}

	calls := notifier.all()
	if len(calls) != 1 {
		t.Fatalf("期望 1 次投遞，實際為 %d", len(calls))
	}
	want := delivery{"system", "PAT001", "明天 9 點看診", "system"}
	if calls[0] != want {
		t.Errorf("投遞內容錯誤: %+v", calls[0])
	}
}

func TestDeliverValidation(t *testing.T) {
	conn, notifier := startServer(t, nil, nil)

	tests := []struct {
		name   string
		fields map[string]interface{}
	}{
		{"缺少接收者", map[string]interface{}{"senderId": "DOC001", "content": "hi"}},
		{"空白內容", map[string]interface{}{"senderId": "DOC001", "receiverId": "PAT001", "content": "   "}},
		{"內容過長", map[string]interface{}{"senderId": "DOC001", "receiverId": "PAT001", "content": "超過二十個字的內容超過二十個字的內容超過二十個字"}},
		{"非法 ID", map[string]interface{}{"senderId": "DOC001", "receiverId": "$where", "content": "hi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := conn.Invoke(context.Background(), DeliverMethod, deliverReq(t, tt.fields), &emptypb.Empty{})
			if status.Code(err) != codes.InvalidArgument {
				t.Errorf("期望 InvalidArgument，實際為 %v", err)
			}
		})
	}
	if n := len(notifier.all()); n != 0 {
		t.Errorf("無效請求不應投遞，實際投遞 %d 次", n)
	}
}

func TestHealthFollowsPinger(t *testing.T) {
	tests := []struct {
		name   string
		pinger Pinger
		want   healthpb.HealthCheckResponse_ServingStatus
	}{
		{"資料庫正常", func(context.Context) error { return nil }, healthpb.HealthCheckResponse_SERVING},
		{"資料庫不可達", func(context.Context) error { return errors.New("down") }, healthpb.HealthCheckResponse_NOT_SERVING},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, _ := startServer(t, tt.pinger, nil)
			resp, err := healthpb.NewHealthClient(conn).Check(context.Background(),
				&healthpb.HealthCheckRequest{Service: DeliveryServiceName})
			if err != nil {
				t.Fatalf("健康檢查失敗: %v", err)
			}
			if resp.GetStatus() != tt.want {
				t.Errorf("期望 %v，實際為 %v", tt.want, resp.GetStatus())
			}
		})
	}
}

func TestDeliverRequiresTokenWhenAuthEnabled(t *testing.T) {
	const secret = "grpc-secret"
	auth := middleware.NewJWTMiddleware(config.AuthenticationConfig{JWTEnabled: true, JWTSecret: secret}, nil, nil)
	conn, notifier := startServer(t, nil, auth)

	req := deliverReq(t, map[string]interface{}{"senderId": "system", "receiverId": "PAT001", "content": "hi"})

	err := conn.Invoke(context.Background(), DeliverMethod, req, &emptypb.Empty{})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("期望 Unauthenticated，實際為 %v", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "reminder-service",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	ctx := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+signed)
	if err := conn.Invoke(ctx, DeliverMethod, req, &emptypb.Empty{}); err != nil {
		t.Fatalf("帶 token 的請求失敗: %v", err)
	}

	// 健康檢查不需要 token
	if _, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{}); err != nil {
		t.Errorf("健康檢查不應要求認證: %v", err)
	}
	if n := len(notifier.all()); n != 1 {
		t.Errorf("期望 1 次投遞，實際為 %d", n)
	}
}
