package session

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/huddlehq/huddle/pkg/token"
	"github.com/huddlehq/huddle/pkg/token/tokentest"
)

func TestFormatRemaining(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{-time.Second, "Expired"},
		{0, "Expired"},
		{40 * time.Second, "40s"},
		{59*time.Second + 999*time.Millisecond, "59s"},
		{12*time.Minute + 5*time.Second, "12m 5s"},
		{90 * time.Minute, "90m 0s"},
	}
	for _, tt := range tests {
		if got := FormatRemaining(tt.in); got != tt.want {
			t.Errorf("FormatRemaining(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStoreHealth(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	tests := []struct {
		name   string
		expiry time.Duration
		want   Health
	}{
		{"valid", time.Hour, HealthValid},
		{"warning", 20 * time.Minute, HealthWarning},
		{"critical", 8 * time.Minute, HealthCritical},
		{"expired", -time.Minute, HealthExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := newTestStore(t, token.NewCodec(clock))
			login(t, store, tokentest.Mint(t, "u1", epoch.Add(tt.expiry)), "r1")
			if got := store.Health(); got != tt.want {
				t.Errorf("Health = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStoreExpiryHelpersWithoutSession(t *testing.T) {
	store, _ := newTestStore(t, token.NewCodec(nil))
	if store.IsExpiringSoon(5) {
		t.Error("IsExpiringSoon without a token = true, want false")
	}
	if got := store.FormatTimeUntilExpiration(); got != "Expired" {
		t.Errorf("FormatTimeUntilExpiration = %q, want Expired", got)
	}
	if got := store.Health().Label(); got != "Expired" {
		t.Errorf("Health label = %q, want Expired", got)
	}
}
