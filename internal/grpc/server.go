package grpc

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"medchat-gateway/internal/platform/config"
	"medchat-gateway/internal/platform/logger"
	"medchat-gateway/internal/platform/middleware"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// DeliveryServiceName 即時投遞服務名稱.
	DeliveryServiceName = "medchat.realtime.v1.Delivery"
	// DeliverMethod Deliver 完整方法名.
	DeliverMethod = "/" + DeliveryServiceName + "/Deliver"

	defaultHealthInterval = 15 * time.Second
	pingTimeout           = 3 * time.Second
)

// Notifier 將事件推送給在線用戶.
type Notifier interface {
	Deliver(ctx context.Context, senderID, receiverID, content, senderName string)
}

// Pinger 檢查後端存儲是否可達.
type Pinger func(ctx context.Context) error

// Options 服務器選項.
type Options struct {
	TLS              config.TLSConfig
	MaxMessageLength int
	HealthInterval   time.Duration
}

// Server gRPC 服務器：健康檢查 + 即時投遞.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	notifier   Notifier
	pinger     Pinger
	opts       Options

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewServer 創建新的 gRPC 服務器；auth 為 nil 時不做認證.
func NewServer(notifier Notifier, pinger Pinger, auth *middleware.JWTMiddleware, opts Options) (*Server, error) {
	ctx := context.Background()

	var serverOpts []grpc.ServerOption
	if opts.TLS.Enabled {
		creds, err := loadTLSCredentials(opts.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS credentials: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
		logger.Info(ctx, "gRPC TLS 已啟用")
	} else {
		logger.Info(ctx, "gRPC 以非加密模式運行（開發環境）")
	}
	if auth != nil {
		serverOpts = append(serverOpts,
			grpc.ChainUnaryInterceptor(auth.GRPCUnaryInterceptor()),
			grpc.ChainStreamInterceptor(auth.GRPCStreamInterceptor()),
		)
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = defaultHealthInterval
	}

	s := &Server{
		grpcServer: grpc.NewServer(serverOpts...),
		health:     health.NewServer(),
		notifier:   notifier,
		pinger:     pinger,
		opts:       opts,
		done:       make(chan struct{}),
	}

	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.grpcServer.RegisterService(&deliveryServiceDesc, s)
	s.refreshHealth(ctx)
	s.wg.Add(1)
	go s.watchHealth()

	logger.Infof(ctx, "gRPC 服務器初始化 - TLS: %v, 認證: %v", opts.TLS.Enabled, auth != nil && auth.Enabled())
	return s, nil
}

// Start 監聽端口並啟動服務.
func (s *Server) Start(port string) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}
	logger.Infof(context.Background(), "gRPC 服務器啟動在端口 %s", port)
	return s.Serve(lis)
}

// Serve 在指定 listener 上服務.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Stop 停止 gRPC 服務器.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.health.Shutdown()
		close(s.done)
		s.grpcServer.GracefulStop()
		s.wg.Wait()
	})
}

// watchHealth 定期依資料庫狀態刷新健康狀態，直到 Stop.
func (s *Server) watchHealth() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.refreshHealth(context.Background())
		}
	}
}

func (s *Server) refreshHealth(ctx context.Context) {
	st := healthpb.HealthCheckResponse_SERVING
	if s.pinger != nil {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := s.pinger(pctx)
		cancel()
		if err != nil {
			st = healthpb.HealthCheckResponse_NOT_SERVING
			logger.Warning(ctx, "gRPC 健康檢查 - 資料庫不可達", logger.WithDetails(map[string]interface{}{
				"error": err.Error(),
			}))
		}
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(DeliveryServiceName, st)
}

// Deliver 把事件推送給接收者的所有在線連線.
func (s *Server) Deliver(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	fields := req.GetFields()
	get := func(key string) string {
		return strings.TrimSpace(fields[key].GetStringValue())
	}
	senderID := get("senderId")
	receiverID := get("receiverId")
	content := fields["content"].GetStringValue()
	senderName := get("senderName")

	if err := middleware.ValidateUserID(senderID); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "senderId: %v", err)
	}
	if err := middleware.ValidateUserID(receiverID); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "receiverId: %v", err)
	}
	if strings.TrimSpace(content) == "" {
		return nil, status.Error(codes.InvalidArgument, "content 不能為空")
	}
	if err := middleware.ValidateMessageContent(content, s.opts.MaxMessageLength); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if senderName == "" {
		senderName = senderID
	}

	s.notifier.Deliver(ctx, senderID, receiverID, content, senderName)

	logger.Info(ctx, "gRPC 即時投遞",
		logger.WithUserID(senderID),
		logger.WithCounterpartID(receiverID),
		logger.WithAction("grpc_deliver"),
		logger.WithDetails(map[string]interface{}{
			"caller": middleware.SubjectFromContext(ctx),
		}))
	return &emptypb.Empty{}, nil
}

// deliveryServer Delivery 服務介面.
type deliveryServer interface {
	Deliver(context.Context, *structpb.Struct) (*emptypb.Empty, error)
}

func deliverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(deliveryServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DeliverMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(deliveryServer).Deliver(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var deliveryServiceDesc = grpc.ServiceDesc{
	ServiceName: DeliveryServiceName,
	HandlerType: (*deliveryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "medchat/realtime/v1/delivery.proto",
}
