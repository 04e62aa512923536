package session

import (
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// Transport attaches the bearer token to outgoing requests and repairs a
// single 401 by renewing through the gate and resending once.
type Transport struct {
	gate   *Gate
	base   http.RoundTripper
	logger *zap.Logger
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(gate *Gate, base http.RoundTripper, logger *zap.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{gate: gate, base: base, logger: logger}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	tok := t.gate.store.Get().AccessToken
	if tok != "" && t.gate.Stale(tok) {
		fresh, err := t.gate.EnsureFresh(ctx)
		if err != nil {
			if req.Body != nil {
				req.Body.Close()
			}
			return nil, fmt.Errorf("session.Transport: %s %s: %w", req.Method, req.URL.Path, err)
		}
		tok = fresh
	}

	resp, err := t.base.RoundTrip(withBearer(req, tok))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	if t.gate.store.Get().RefreshToken == "" {
		drain(resp)
		t.gate.endCurrent(ErrNoRefreshToken)
		return nil, fmt.Errorf("session.Transport: %s %s: %w: %w", req.Method, req.URL.Path, ErrSessionEnded, ErrNoRefreshToken)
	}

	retry, err := rewind(req)
	if err != nil {
		// The body cannot be replayed; hand the 401 back untouched.
		t.logger.Debug("cannot replay request body", zap.String("path", req.URL.Path), zap.Error(err))
		return resp, nil
	}
	drain(resp)

	fresh, err := t.gate.Renew(ctx, tok)
	if err != nil {
		return nil, fmt.Errorf("session.Transport: %s %s: %w", req.Method, req.URL.Path, err)
	}
	t.logger.Debug("retrying after renewal", zap.String("path", req.URL.Path))

	// Whatever the second response is, it is final.
	return t.base.RoundTrip(withBearer(retry, fresh))
}

func withBearer(req *http.Request, tok string) *http.Request {
	out := req.Clone(req.Context())
	if tok != "" {
		out.Header.Set("Authorization", "Bearer "+tok)
	}
	return out
}

// rewind returns a copy of req whose body can be sent again.
func rewind(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return out, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("request body is not replayable")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	out.Body = body
	return out, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
