package audit

import (
	"context"
	"testing"

	"medchat-gateway/internal/platform/logger"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestAuditDisabledWritesNothing(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger.SetCore(core)

	NewAuditService(false).LogMessageSent(context.Background(), "PAT001", "DOC001", "m1", false)

	if logs.Len() != 0 {
		t.Errorf("審計未啟用時不應寫日誌，實際 %d 筆", logs.Len())
	}
}

func TestAuditSeverityByResult(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger.SetCore(core)

	a := NewAuditService(true)
	a.LogMessageSent(context.Background(), "PAT001", "DOC001", "m1", true)
	a.LogRealtimeImpersonation(context.Background(), "c1", "PAT001", "DOC001", "join")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("期望 2 筆審計日誌，實際為 %d", len(entries))
	}
	if entries[0].ContextMap()["severity"] != "INFO" {
		t.Errorf("成功事件應為 INFO，實際為 %v", entries[0].ContextMap()["severity"])
	}
	if entries[1].ContextMap()["severity"] != "WARNING" {
		t.Errorf("拒絕事件應為 WARNING，實際為 %v", entries[1].ContextMap()["severity"])
	}
	if entries[1].ContextMap()["userId"] != "PAT001" {
		t.Errorf("期望 userId 為 PAT001，實際為 %v", entries[1].ContextMap()["userId"])
	}
}

func TestAuditTakesRequestInfoFromContext(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger.SetCore(core)

	ctx := WithRequestInfo(context.Background(), RequestInfo{IPAddress: "10.0.0.7", UserAgent: "medchat-web"})
	NewAuditService(true).LogConversationRead(ctx, "DOC001", "PAT001", 3)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("期望 1 筆審計日誌，實際為 %d", len(entries))
	}
	details, _ := entries[0].ContextMap()["details"].(map[string]interface{})
	if details["ip_address"] != "10.0.0.7" || details["user_agent"] != "medchat-web" {
		t.Errorf("請求來源未寫入審計日誌: %v", details)
	}
}
