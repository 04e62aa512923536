package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/huddlehq/huddle/pkg/domain"
	"github.com/huddlehq/huddle/pkg/realtime"
	"github.com/huddlehq/huddle/pkg/session"
)

func TestSocketBadge(t *testing.T) {
	tests := []struct {
		state realtime.State
		want  string
	}{
		{realtime.Connected, "live"},
		{realtime.Connecting, "connecting"},
		{realtime.Disconnected, "offline"},
	}
	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			if got := socketBadge(tc.state); !strings.Contains(got, tc.want) {
				t.Errorf("socketBadge(%v) = %q, want to contain %q", tc.state, got, tc.want)
			}
		})
	}
}

func TestSeverityAndHealthStylesRenderText(t *testing.T) {
	for _, sev := range []string{domain.SeverityInfo, domain.SeverityWarning, domain.SeverityError, ""} {
		if got := severityStyle(sev).Render("msg"); !strings.Contains(got, "msg") {
			t.Errorf("severityStyle(%q) lost the text: %q", sev, got)
		}
	}
	for _, h := range []session.Health{session.HealthValid, session.HealthWarning, session.HealthCritical, session.HealthExpired} {
		if got := healthStyle(h).Render(h.Label()); !strings.Contains(got, h.Label()) {
			t.Errorf("healthStyle(%v) lost the label: %q", h, got)
		}
	}
}

func TestShimmerLogoContainsLetters(t *testing.T) {
	logo := renderShimmerLogo(7)
	for _, r := range "HUDDLE" {
		if !strings.ContainsRune(logo, r) {
			t.Errorf("logo missing %q: %q", r, logo)
		}
	}
}

func TestHelpViewMarksCursor(t *testing.T) {
	view := helpView(1)
	if !strings.Contains(view, "huddle login") {
		t.Error("help view missing commands")
	}
	if !strings.Contains(view, "> ") {
		t.Error("help view missing cursor")
	}
}

func TestFormatTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		at   time.Time
		want string
	}{
		{now.Add(-10 * time.Second), "just now"},
		{now.Add(-5 * time.Minute), "5m ago"},
		{now.Add(-3 * time.Hour), "3h ago"},
		{now.Add(-50 * time.Hour), "2d ago"},
		{time.Time{}, ""},
	}
	for _, tc := range tests {
		if got := formatTime(now, tc.at); got != tc.want {
			t.Errorf("formatTime(%v) = %q, want %q", tc.at, got, tc.want)
		}
	}
}
