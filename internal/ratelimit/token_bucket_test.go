package ratelimit

import (
	"testing"
	"time"
)

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want Decision
	}{
		{name: "allowed", raw: []any{int64(1), int64(7), int64(0)}, want: Decision{Allowed: true, Remaining: 7}},
		{name: "denied", raw: []any{int64(0), int64(1), int64(1500)}, want: Decision{Remaining: 1, RetryAfter: 1500 * time.Millisecond}},
		{name: "cost above capacity", raw: []any{int64(0), int64(2), int64(-1)}, want: Decision{Remaining: 2}},
		{name: "string values", raw: []any{"1", "3", "0"}, want: Decision{Allowed: true, Remaining: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDecision(tt.raw)
			if err != nil {
				t.Fatalf("parseDecision returned error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestParseDecisionRejectsMalformed(t *testing.T) {
	if _, err := parseDecision([]any{int64(1)}); err == nil {
		t.Fatal("expected error for short response")
	}
	if _, err := parseDecision([]any{int64(1), []byte("x"), int64(0)}); err == nil {
		t.Fatal("expected error for unsupported value type")
	}
}

func TestNewRedisTokenBucketValidates(t *testing.T) {
	if _, err := NewRedisTokenBucket(nil, 10, time.Minute, ""); err == nil {
		t.Fatal("expected error for nil client")
	}
}
