package portal

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mohammad-safakhou/poodle/internal/helpers"
)

const (
	loginPath     = "/Shibboleth.sso/Login"
	assertionPath = "/Shibboleth.sso/SAML2/POST"
	coursePath    = "/course/view.php"

	// DefaultRequestTimeout applies to every request of a session.
	DefaultRequestTimeout = 30 * time.Second
)

// Config locates the portal and its identity provider.
type Config struct {
	// BaseURL is the portal root, e.g. https://www.moodle.tum.de.
	BaseURL string
	// SSOBaseURL is the identity provider host the login form action is
	// resolved against, e.g. https://login.tum.de.
	SSOBaseURL string
	// ProviderID is the entity id passed as providerId to the login endpoint.
	ProviderID string
	// LoginTarget is where the service provider lands after login.
	LoginTarget string
	// RequestTimeout bounds every single HTTP request.
	RequestTimeout time.Duration
}

func (c Config) base() string {
	return helpers.BaseURL(c.BaseURL)
}

// LoginURL is the service provider endpoint that starts the SSO flow.
func (c Config) LoginURL() string {
	return c.base() + loginPath + "?providerId=" + url.QueryEscape(c.ProviderID) + "&target=" + url.QueryEscape(c.LoginTarget)
}

// AssertionURL is the assertion consumer endpoint.
func (c Config) AssertionURL() string {
	return c.base() + assertionPath
}

// LandingURL is the portal root, used as Referer and as the session probe.
func (c Config) LandingURL() string {
	return c.base() + "/"
}

// CourseURL is the page of the course with the given id.
func (c Config) CourseURL(id int64) string {
	return c.base() + coursePath + "?id=" + url.QueryEscape(formatID(id))
}

// Shibboleth logs in through a Shibboleth service provider and a SAML2
// identity provider using form posts.
type Shibboleth struct {
	cfg       Config
	cred      Credential
	extractor FormExtractor
}

// NewShibboleth builds an Authenticator. A nil extractor selects MarkerExtractor.
func NewShibboleth(cfg Config, cred Credential, extractor FormExtractor) *Shibboleth {
	if extractor == nil {
		extractor = MarkerExtractor{}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	return &Shibboleth{cfg: cfg, cred: cred, extractor: extractor}
}

// Handshake runs the five step login and returns the session whose cookie jar
// holds the result.
func (s *Shibboleth) Handshake(ctx context.Context) (*Session, error) {
	session, err := NewSession(s.cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}

	body, err := s.send(ctx, session, "login initiation", http.MethodGet, s.cfg.LoginURL(), nil, map[string]string{
		"Referer": s.cfg.LandingURL(),
	})
	if err != nil {
		return nil, err
	}

	action, err := s.extractor.LoginAction(body)
	if err != nil {
		return nil, err
	}
	submitURL, err := helpers.ResolveURL(s.cfg.SSOBaseURL, action)
	if err != nil {
		return nil, err
	}

	body, err = s.send(ctx, session, "credential submission", http.MethodPost, submitURL, url.Values{
		"j_username":       {s.cred.Username},
		"j_password":       {s.cred.Password},
		"donotcache":       {"1"},
		"_eventId_proceed": {""},
	}, nil)
	if err != nil {
		return nil, err
	}

	relayState, samlResponse, err := s.extractor.Assertion(body)
	if err != nil {
		return nil, err
	}

	if _, err := s.send(ctx, session, "assertion", http.MethodPost, s.cfg.AssertionURL(), url.Values{
		"RelayState":   {relayState},
		"SAMLResponse": {samlResponse},
	}, nil); err != nil {
		return nil, err
	}
	return session, nil
}

// send issues one protocol step and returns the response body. Form values
// turn the request into an urlencoded POST body.
func (s *Shibboleth) send(ctx context.Context, session *Session, step, method, target string, form url.Values, headers map[string]string) (string, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return "", networkError(step, err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := session.client.Do(req)
	if err != nil {
		return "", networkError(step, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", networkError(step, err)
	}
	if !isSuccess(resp.StatusCode) {
		return "", statusError(ErrNetwork, step, resp.StatusCode)
	}
	return string(b), nil
}
