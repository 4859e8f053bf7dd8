package helpers

import "testing"

func TestResolveURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		base string
		ref  string
		want string
	}{
		{
			name: "path with query",
			base: "https://login.example.edu",
			ref:  "/idp/profile/SAML2/Redirect/SSO?execution=e1s1",
			want: "https://login.example.edu/idp/profile/SAML2/Redirect/SSO?execution=e1s1",
		},
		{
			name: "trailing slash on base",
			base: "https://login.example.edu/",
			ref:  "/idp/profile/SAML2/Redirect/SSO;jsessionid=ABC?execution=e1s2",
			want: "https://login.example.edu/idp/profile/SAML2/Redirect/SSO;jsessionid=ABC?execution=e1s2",
		},
		{
			name: "absolute ref",
			base: "https://login.example.edu",
			ref:  "https://other.example.edu/sso",
			want: "https://other.example.edu/sso",
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ResolveURL(tc.base, tc.ref)
			if err != nil {
				t.Fatalf("ResolveURL returned error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("ResolveURL(%q, %q) = %q, want %q", tc.base, tc.ref, got, tc.want)
			}
		})
	}
}

func TestResolveURLRejectsRelativeBase(t *testing.T) {
	t.Parallel()
	if _, err := ResolveURL("login.example.edu", "/sso"); err == nil {
		t.Fatalf("expected error for relative base")
	}
	if _, err := ResolveURL("", "/sso"); err == nil {
		t.Fatalf("expected error for empty base")
	}
}

func TestBaseURL(t *testing.T) {
	t.Parallel()
	if got := BaseURL(" https://portal.example.edu// "); got != "https://portal.example.edu" {
		t.Fatalf("BaseURL() = %q", got)
	}
}
