package portal

import (
	"fmt"
	"strings"
)

// FormExtractor pulls the values the SSO handshake needs out of raw HTML.
// The state machine only depends on this interface, so the literal-marker
// implementation can be swapped for a structured parser.
type FormExtractor interface {
	// LoginAction returns the action attribute of the identity provider's
	// credential form, unresolved.
	LoginAction(body string) (string, error)
	// Assertion returns the relay state and SAML response that complete the
	// federated login.
	Assertion(body string) (relayState, samlResponse string, err error)
}

const (
	actionMarker     = `form action="`
	relayStateMarker = `name="RelayState" value="cookie&#x3a;`
	samlMarker       = `name="SAMLResponse" value="`
	relayStatePrefix = "cookie:"
)

// MarkerExtractor finds values by literal substring markers. It is tied to the
// exact markup the identity provider renders today.
type MarkerExtractor struct{}

func (MarkerExtractor) LoginAction(body string) (string, error) {
	action, ok := valueAfter(body, actionMarker)
	if !ok {
		return "", fmt.Errorf("%w: login form action not found", ErrMalformed)
	}
	return action, nil
}

func (MarkerExtractor) Assertion(body string) (string, string, error) {
	relay, ok := valueAfter(body, relayStateMarker)
	if !ok {
		return "", "", fmt.Errorf("%w: RelayState not found, credentials may have been rejected", ErrMalformed)
	}
	saml, ok := valueAfter(body, samlMarker)
	if !ok {
		return "", "", fmt.Errorf("%w: SAMLResponse not found, credentials may have been rejected", ErrMalformed)
	}
	return relayStatePrefix + relay, saml, nil
}

// valueAfter returns the text between the first occurrence of marker and the
// next double quote. Without a closing quote the rest of body is returned.
func valueAfter(body, marker string) (string, bool) {
	_, rest, found := strings.Cut(body, marker)
	if !found {
		return "", false
	}
	value, _, _ := strings.Cut(rest, `"`)
	return value, true
}
