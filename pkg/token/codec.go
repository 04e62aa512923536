// Package token decodes bearer tokens locally. Signatures are never verified
// here; that is the server's job.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

// DefaultBuffer turns "expired" into "expiring soon" so renewal has a margin.
const DefaultBuffer = 5 * time.Minute

// Invalid is returned by TimeUntilExpiration for tokens that cannot be decoded.
const Invalid = -time.Millisecond

// Claims are the fields of an access token the client cares about.
type Claims struct {
	Subject   string
	Role      string
	ExpiresAt time.Time
}

var parser = jwt.NewParser()

// Decode parses the token payload without verifying its signature.
// It returns false for empty or malformed input.
func Decode(tok string) (*Claims, bool) {
	if tok == "" {
		return nil, false
	}
	mc := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(tok, mc); err != nil {
		return nil, false
	}

	c := &Claims{}
	if id, ok := mc["_id"].(string); ok && id != "" {
		c.Subject = id
	} else if sub, err := mc.GetSubject(); err == nil {
		c.Subject = sub
	}
	c.Role, _ = mc["role"].(string)
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c, true
}

// Codec answers expiry questions against a clock.
type Codec struct {
	clock clockwork.Clock
}

// NewCodec returns a Codec reading time from clock. A nil clock uses the real one.
func NewCodec(clock clockwork.Clock) Codec {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return Codec{clock: clock}
}

// Expiration returns the token's exp claim.
func (c Codec) Expiration(tok string) (time.Time, bool) {
	claims, ok := Decode(tok)
	if !ok || claims.ExpiresAt.IsZero() {
		return time.Time{}, false
	}
	return claims.ExpiresAt, true
}

// IsExpired reports whether tok is missing, undecodable, or expires at or
// before now+buffer.
func (c Codec) IsExpired(tok string, buffer time.Duration) bool {
	exp, ok := c.Expiration(tok)
	if !ok {
		return true
	}
	return !exp.After(c.clock.Now().Add(buffer))
}

// NeedsRefresh reports whether tok expires within bufferMinutes.
func (c Codec) NeedsRefresh(tok string, bufferMinutes int) bool {
	return c.IsExpired(tok, time.Duration(bufferMinutes)*time.Minute)
}

// TimeUntilExpiration returns exp-now, negative once expired, or Invalid.
// Use it for scheduling only, never for authorization decisions.
func (c Codec) TimeUntilExpiration(tok string) time.Duration {
	exp, ok := c.Expiration(tok)
	if !ok {
		return Invalid
	}
	return exp.Sub(c.clock.Now())
}

var realCodec = NewCodec(nil)

// IsExpired is Codec.IsExpired against the wall clock.
func IsExpired(tok string, buffer time.Duration) bool {
	return realCodec.IsExpired(tok, buffer)
}

// NeedsRefresh is Codec.NeedsRefresh against the wall clock.
func NeedsRefresh(tok string, bufferMinutes int) bool {
	return realCodec.NeedsRefresh(tok, bufferMinutes)
}

// TimeUntilExpiration is Codec.TimeUntilExpiration against the wall clock.
func TimeUntilExpiration(tok string) time.Duration {
	return realCodec.TimeUntilExpiration(tok)
}
