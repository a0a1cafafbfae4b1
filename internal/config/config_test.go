package config

import (
	"testing"
	"time"
)

func TestLoadVerificationDefaults(t *testing.T) {
	t.Setenv("VERIFY_POLL_AFTER_SECONDS", "")
	t.Setenv("VERIFY_MAX_WAIT_SECONDS", "")

	cfg := Load()
	if cfg.Verification.PollAfter != 10*time.Second {
		t.Fatalf("expected poll after 10s, got %s", cfg.Verification.PollAfter)
	}
	if cfg.Verification.MaxWait != 300*time.Second {
		t.Fatalf("expected max wait 300s, got %s", cfg.Verification.MaxWait)
	}
}

func TestLoadVerificationOverrides(t *testing.T) {
	t.Setenv("VERIFY_POLL_AFTER_SECONDS", "3")
	t.Setenv("VERIFY_MAX_WAIT_SECONDS", "abc")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg := Load()
	if cfg.Verification.PollAfter != 3*time.Second {
		t.Fatalf("expected poll after 3s, got %s", cfg.Verification.PollAfter)
	}
	if cfg.Verification.MaxWait != 300*time.Second {
		t.Fatalf("expected invalid max wait to fall back to default, got %s", cfg.Verification.MaxWait)
	}
	if !cfg.Redis.Enabled() {
		t.Fatalf("expected redis to be enabled")
	}
}

func TestValidateVerificationPolicy(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*VerificationPolicy)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*VerificationPolicy) {}},
		{name: "amount selector", mutate: func(p *VerificationPolicy) { p.Selector = SelectorAmountProximity }},
		{name: "unknown selector", mutate: func(p *VerificationPolicy) { p.Selector = "random" }, wantErr: true},
		{name: "no currencies", mutate: func(p *VerificationPolicy) { p.Risk.Currencies = nil }, wantErr: true},
		{name: "inverted thresholds", mutate: func(p *VerificationPolicy) { p.Risk.HighAmount = p.Risk.VeryHighAmount + 1 }, wantErr: true},
		{name: "zero max age", mutate: func(p *VerificationPolicy) { p.Risk.MaxAge = 0 }, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			policy := DefaultVerificationPolicy()
			tc.mutate(&policy)
			err := validateVerificationPolicy(policy)
			if tc.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestNilPolicyHolderReturnsDefaults(t *testing.T) {
	var holder *VerificationPolicyHolder
	if got := holder.Get().Selector; got != SelectorMostRecent {
		t.Fatalf("expected default selector, got %q", got)
	}
}
