package session

import (
	"fmt"
	"time"
)

// Health grades the current access token for display.
type Health int

const (
	HealthValid Health = iota
	HealthWarning
	HealthCritical
	HealthExpired
)

// Thresholds for Health. Tokens inside the renewal buffer are normally
// renewed before either is shown for long.
const (
	warningWindow  = 30
	criticalWindow = 10
)

// Label is the short status text shown next to the token indicator.
func (h Health) Label() string {
	switch h {
	case HealthExpired:
		return "Expired"
	case HealthWarning, HealthCritical:
		return "Expiring Soon"
	default:
		return "Valid"
	}
}

// IsExpiringSoon reports whether the access token expires within
// bufferMinutes. It is false when there is no token at all.
func (s *Store) IsExpiringSoon(bufferMinutes int) bool {
	tok := s.Get().AccessToken
	if tok == "" {
		return false
	}
	return s.codec.NeedsRefresh(tok, bufferMinutes)
}

// Health grades the current access token.
func (s *Store) Health() Health {
	snap := s.Get()
	switch {
	case !snap.IsAuthenticated:
		return HealthExpired
	case s.IsExpiringSoon(criticalWindow):
		return HealthCritical
	case s.IsExpiringSoon(warningWindow):
		return HealthWarning
	default:
		return HealthValid
	}
}

// FormatTimeUntilExpiration renders the access token's remaining lifetime
// as "Expired", "12m 5s" or "40s".
func (s *Store) FormatTimeUntilExpiration() string {
	return FormatRemaining(s.codec.TimeUntilExpiration(s.Get().AccessToken))
}

// FormatRemaining renders d the way FormatTimeUntilExpiration does.
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "Expired"
	}
	minutes := int(d / time.Minute)
	seconds := int(d % time.Minute / time.Second)
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
