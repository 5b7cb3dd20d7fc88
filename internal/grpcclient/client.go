package grpcclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"medchat-gateway/internal/platform/config"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// deliverMethod 與服務端 medchat.realtime.v1.Delivery/Deliver 對應.
const deliverMethod = "/medchat.realtime.v1.Delivery/Deliver"

// DeliverRequest 推送給在線用戶的事件.
type DeliverRequest struct {
	SenderID   string
	ReceiverID string
	Content    string
	SenderName string
}

// Client 內部 gRPC 客戶端，供其他後端服務推送即時事件.
type Client struct {
	conn  *grpc.ClientConn
	token string
}

// Dial 依配置建立連接；token 非空時每次呼叫附帶 Bearer 認證.
func Dial(address string, tlsConfig config.TLSConfig, token string) (*Client, error) {
	var (
		conn *grpc.ClientConn
		err  error
	)
	if tlsConfig.Enabled {
		conn, err = dialWithTLS(address, tlsConfig)
	} else {
		conn, err = dialInsecure(address)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gRPC server at %s: %w", address, err)
	}
	return &Client{conn: conn, token: token}, nil
}

// NewFromConn 以現有連接建立客戶端.
func NewFromConn(conn *grpc.ClientConn, token string) *Client {
	return &Client{conn: conn, token: token}
}

// Deliver 請求服務端把事件推送給接收者.
func (c *Client) Deliver(ctx context.Context, req DeliverRequest) error {
	in, err := structpb.NewStruct(map[string]interface{}{
		"senderId":   req.SenderID,
		"receiverId": req.ReceiverID,
		"content":    req.Content,
		"senderName": req.SenderName,
	})
	if err != nil {
		return err
	}
	return c.conn.Invoke(c.withAuth(ctx), deliverMethod, in, &emptypb.Empty{})
}

// Check 查詢服務健康狀態；service 為空時查詢整體狀態.
func (c *Client) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Close 關閉連接.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) withAuth(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
}

// dialWithTLS 使用 TLS 連接；設定客戶端證書時為雙向 TLS.
func dialWithTLS(address string, tlsConfig config.TLSConfig) (*grpc.ClientConn, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if tlsConfig.CAFile != "" {
		ca, err := os.ReadFile(tlsConfig.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(ca); !ok {
			return nil, fmt.Errorf("failed to append CA cert")
		}
		cfg.RootCAs = pool
	}

	if tlsConfig.CertFile != "" && tlsConfig.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(tlsConfig.CertFile, tlsConfig.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client cert: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return grpc.NewClient(address, grpc.WithTransportCredentials(credentials.NewTLS(cfg)))
}

// dialInsecure 不使用 TLS 連接（僅開發環境）
func dialInsecure(address string) (*grpc.ClientConn, error) {
	return grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
}
