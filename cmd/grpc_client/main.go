package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"medchat-gateway/internal/grpcclient"
	"medchat-gateway/internal/platform/config"
)

const usage = `用法:
  grpc_client [選項] check [service]
  grpc_client [選項] deliver -from <senderId> -to <receiverId> -content <text> [-name <senderName>]

選項:
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "錯誤: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("grpc_client", flag.ContinueOnError)
	addr := fs.String("addr", "localhost:8081", "gRPC 服務器地址")
	token := fs.String("token", os.Getenv("MEDCHAT_GRPC_TOKEN"), "Bearer token（啟用 JWT 時需要）")
	timeout := fs.Duration("timeout", 5*time.Second, "請求超時")
	tlsEnabled := fs.Bool("tls", false, "使用 TLS")
	caFile := fs.String("ca", "", "CA 證書")
	certFile := fs.String("cert", "", "客戶端證書（雙向 TLS）")
	keyFile := fs.String("key", "", "客戶端私鑰（雙向 TLS）")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("缺少子命令")
	}

	client, err := grpcclient.Dial(*addr, config.TLSConfig{
		Enabled:  *tlsEnabled,
		CAFile:   *caFile,
		CertFile: *certFile,
		KeyFile:  *keyFile,
	}, *token)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch cmd := fs.Arg(0); cmd {
	case "check":
		service := ""
		if fs.NArg() > 1 {
			service = fs.Arg(1)
		}
		st, err := client.Check(ctx, service)
		if err != nil {
			return fmt.Errorf("健康檢查失敗: %w", err)
		}
		fmt.Printf("%s: %s\n", serviceLabel(service), st)
		return nil

	case "deliver":
		return deliver(ctx, client, fs.Args()[1:])

	default:
		fs.Usage()
		return fmt.Errorf("未知子命令: %s", cmd)
	}
}

func deliver(ctx context.Context, client *grpcclient.Client, args []string) error {
	fs := flag.NewFlagSet("deliver", flag.ContinueOnError)
	from := fs.String("from", "system", "發送者 ID")
	to := fs.String("to", "", "接收者 ID")
	content := fs.String("content", "", "訊息內容")
	name := fs.String("name", "", "發送者顯示名稱")
	if err := fs.Parse(args); err != nil {
		return err
	}

	err := client.Deliver(ctx, grpcclient.DeliverRequest{
		SenderID:   *from,
		ReceiverID: *to,
		Content:    *content,
		SenderName: *name,
	})
	if err != nil {
		return fmt.Errorf("投遞失敗: %w", err)
	}
	fmt.Printf("✓ 已推送給 %s\n", *to)
	return nil
}

func serviceLabel(service string) string {
	if service == "" {
		return "(overall)"
	}
	return service
}
