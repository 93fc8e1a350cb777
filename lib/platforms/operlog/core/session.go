package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"operlog-client/internal/components/telemetry"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_session_bootstrap = "session.bootstrap"
	report_session_renew     = "session.renew"
)

// Credentials are fixed for the lifetime of a client.
type Credentials struct {
	BaseUrl  string
	Username string
	Password string
}

// Session owns the bearer token. The server gives no expiry, so a token is
// only replaced after the server rejects it.
type Session struct {
	creds Credentials
	http  *resty.Client
	store TokenStore
	tel   telemetry.API

	// renewMu serializes logins, mu guards reads and writes of token
	renewMu sync.Mutex
	mu      sync.RWMutex
	token   string
}

func newSession(creds Credentials, http *resty.Client, store TokenStore, tel telemetry.API) *Session {
	return &Session{
		creds: creds,
		http:  http,
		store: store,
		tel:   tel,
	}
}

// Token returns the current token, it is empty until Bootstrap succeeds.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) setToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Bootstrap loads the persisted token or logs in when there is none.
func (s *Session) Bootstrap(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "session:Bootstrap")
	defer span.End()

	token, err := s.store.Load()
	if err == nil {
		s.setToken(token)
		return nil
	}
	if !errors.Is(err, ErrTokenNotFound) {
		s.tel.ReportWarning(report_session_bootstrap, fmt.Errorf("load token: %w", err))
	}

	_, err = s.Renew(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "could not obtain a token")
		return &AuthenticationError{Reason: "could not obtain a token", Err: err}
	}
	return nil
}

// Renew logs in with the session credentials, persists the new token and makes
// it current. On failure the previous token stays in place.
func (s *Session) Renew(ctx context.Context) (string, error) {
	s.renewMu.Lock()
	defer s.renewMu.Unlock()
	return s.login(ctx)
}

// renewFrom renews only if `stale` is still the current token, when another
// caller already replaced it the replacement is returned instead.
func (s *Session) renewFrom(ctx context.Context, stale string) (string, error) {
	s.renewMu.Lock()
	defer s.renewMu.Unlock()

	current := s.Token()
	if current != "" && current != stale {
		s.tel.ReportDebug("token already renewed by another caller")
		return current, nil
	}
	return s.login(ctx)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken *string `json:"access_token"`
}

func (s *Session) login(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "session:Renew")
	defer span.End()

	loginError := func(err error) (string, error) {
		s.tel.ReportBroken(report_session_renew, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "renew failed")
		return "", fmt.Errorf("renew token: %w", err)
	}

	res, err := s.http.R().
		SetContext(ctx).
		SetBody(loginRequest{
			Username: s.creds.Username,
			Password: s.creds.Password,
		}).
		Post("/loginapi")
	if err != nil {
		return loginError(&TransportError{Method: MethodPost, Endpoint: "/loginapi", Err: err})
	}

	var body loginResponse
	err = json.Unmarshal(res.Body(), &body)
	if err != nil {
		return loginError(&ParseError{
			What: fmt.Sprintf("login response (status %d)", res.StatusCode()),
			Err:  err,
		})
	}
	if body.AccessToken == nil || *body.AccessToken == "" {
		return loginError(&ParseError{
			What: fmt.Sprintf("login response (status %d)", res.StatusCode()),
			Err:  fmt.Errorf("missing access_token"),
		})
	}
	token := *body.AccessToken

	err = s.store.Save(token)
	if err != nil {
		return loginError(fmt.Errorf("persist token: %w", err))
	}
	s.setToken(token)

	return token, nil
}
