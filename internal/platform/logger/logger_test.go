package logger

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNationalIDsAreHashed(t *testing.T) {
	if !redactionOn() {
		t.Skip("LOG_REDACTION_ENABLED disables redaction")
	}
	core, logs := observer.New(zapcore.InfoLevel)
	log := &Logger{SugaredLogger: zap.New(core).Sugar()}

	log.Info("invoice_row_built", "contract_id", "c-1", "student_id", "01010112345", "ledger_token", "abc")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["contract_id"] != "c-1" {
		t.Fatalf("contract id must pass through, got %v", fields["contract_id"])
	}
	hashed, _ := fields["student_id"].(string)
	if !strings.HasPrefix(hashed, "hash:") || strings.Contains(hashed, "01010112345") {
		t.Fatalf("student id not hashed: %q", hashed)
	}
	if fields["ledger_token"] != "[REDACTED]" {
		t.Fatalf("token not redacted: %v", fields["ledger_token"])
	}
}

func TestHashIsStable(t *testing.T) {
	if hashValue("01010112345") != hashValue("01010112345") {
		t.Fatalf("hash must be deterministic")
	}
	if hashValue("") != "" {
		t.Fatalf("empty value must stay empty")
	}
}
