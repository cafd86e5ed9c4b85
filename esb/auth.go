package esb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Login step failures. Each is wrapped together with the underlying cause.
var (
	ErrLoginPage           = errors.New("login page step failed")
	ErrCredentialsRejected = errors.New("credentials rejected")
	ErrConfirm             = errors.New("sign-in confirmation step failed")
	ErrAutoForm            = errors.New("auto-submit form step failed")
	ErrCodeExchange        = errors.New("authorization code exchange failed")
)

// Config contains configuration for the portal client
type Config struct {
	Endpoints Endpoints
	UserAgent string
	Timeout   time.Duration
	// Transport overrides the HTTP transport, nil uses http.DefaultTransport
	Transport http.RoundTripper
	// Parser overrides the handshake page parser, nil uses HTMLParser
	Parser PageParser
}

// Authenticator performs the multi-step B2C login against the portal
type Authenticator struct {
	endpoints Endpoints
	userAgent string
	timeout   time.Duration
	transport http.RoundTripper
	parser    PageParser
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewAuthenticator creates a new Authenticator
func NewAuthenticator(cfg Config, logger *zap.Logger) *Authenticator {
	parser := cfg.Parser
	if parser == nil {
		parser = HTMLParser{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Authenticator{
		endpoints: cfg.Endpoints.withDefaults(),
		userAgent: cfg.UserAgent,
		timeout:   timeout,
		transport: cfg.Transport,
		parser:    parser,
		logger:    logger,
		tracer:    otel.Tracer("esb"),
	}
}

// selfAssertedResponse is the JSON body returned by the credential check
type selfAssertedResponse struct {
	Status    string `json:"status"`
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

// Login runs the sign-in sequence and returns an authenticated session. The
// first failing step aborts the login.
func (a *Authenticator) Login(ctx context.Context, creds Credentials) (*Session, error) {
	ctx, span := a.tracer.Start(ctx, "esb.Login",
		trace.WithAttributes(attribute.String("esb.mprn", creds.MPRN)))
	defer span.End()

	session, err := a.login(ctx, creds)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		return nil, err
	}

	span.SetStatus(codes.Ok, "logged in")
	return session, nil
}

func (a *Authenticator) login(ctx context.Context, creds Credentials) (*Session, error) {
	session, err := newSession(a.transport, a.timeout, a.userAgent)
	if err != nil {
		return nil, err
	}

	a.logger.Info("getting login page", zap.String("url", a.endpoints.PortalURL))
	settings, err := a.loadSettings(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoginPage, err)
	}

	policy := a.endpoints.Policy
	if settings.Hosts.Policy != "" {
		policy = settings.Hosts.Policy
	}

	a.logger.Info("sending credentials", zap.String("policy", policy))
	if err := a.submitCredentials(ctx, session, creds, settings, policy); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCredentialsRejected, err)
	}

	a.logger.Info("passing authentication")
	page, base, err := a.confirm(ctx, session, settings, policy)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfirm, err)
	}

	a.logger.Debug("parsing auto-submit form")
	form, err := a.parser.AutoForm(page)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAutoForm, err)
	}

	action, err := base.Parse(form.Action)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid form action %q: %w", ErrAutoForm, form.Action, err)
	}

	a.logger.Info("exchanging authorization code", zap.String("action", action.Redacted()))
	if err := a.exchangeCode(ctx, session, action.String(), form); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCodeExchange, err)
	}

	a.logger.Info("logged in to portal")
	return session, nil
}

// loadSettings fetches the landing page, which redirects to the identity
// provider's login page, and extracts its SETTINGS blob
func (a *Authenticator) loadSettings(ctx context.Context, session *Session) (*Settings, error) {
	resp, body, err := session.get(ctx, a.endpoints.PortalURL)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	settings, err := a.parser.Settings(body)
	if err != nil {
		a.logger.Error("failed to extract login settings",
			zap.String("sample", sample(body)),
			zap.Error(err))
		return nil, err
	}

	a.logger.Debug("extracted login settings", zap.String("transId", settings.TransID))
	return settings, nil
}

// submitCredentials posts the username and password to the SelfAsserted endpoint
func (a *Authenticator) submitCredentials(ctx context.Context, session *Session, creds Credentials, settings *Settings, policy string) error {
	form := url.Values{}
	form.Set("signInName", creds.Username)
	form.Set("password", creds.Password)
	form.Set("request_type", "RESPONSE")

	resp, body, err := session.postForm(ctx, a.endpoints.selfAssertedURL(settings.TransID, policy), form,
		map[string]string{"X-CSRF-TOKEN": settings.CSRF})
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	// The endpoint answers 200 even for bad credentials; the verdict is in the body
	var verdict selfAssertedResponse
	if err := json.Unmarshal(body, &verdict); err == nil && verdict.Status != "" && verdict.Status != "200" {
		return fmt.Errorf("status %s %s: %s", verdict.Status, verdict.ErrorCode, verdict.Message)
	}

	return nil
}

// confirm completes the sign-in and returns the page holding the auto-submit
// form together with the URL it was served from
func (a *Authenticator) confirm(ctx context.Context, session *Session, settings *Settings, policy string) ([]byte, *url.URL, error) {
	resp, body, err := session.get(ctx, a.endpoints.confirmedURL(settings, policy))
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return body, resp.Request.URL, nil
}

// exchangeCode replays the hidden form to the portal, which sets the session cookies
func (a *Authenticator) exchangeCode(ctx context.Context, session *Session, action string, form *AutoForm) error {
	resp, body, err := session.postForm(ctx, action, form.Values(), nil)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, sample(body))
	}
	return nil
}
