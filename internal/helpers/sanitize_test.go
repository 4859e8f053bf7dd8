package helpers

import "testing"

func TestSanitizeHTMLStrict_RemovesTagsAndScripts(t *testing.T) {
	input := `<p>Hello <strong>world</strong><script>alert('x')</script></p>`
	got := SanitizeHTMLStrict(input)
	want := "Hello world"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestTextPreview_CollapsesWhitespace(t *testing.T) {
	input := "<li>\n  <span>Week 3</span>\n\t<span>Slides</span>\n</li>"
	if got := TextPreview(input, 0); got != "Week 3 Slides" {
		t.Fatalf("TextPreview() = %q", got)
	}
}

func TestTextPreview_Truncates(t *testing.T) {
	if got := TextPreview("<p>abcdefgh</p>", 3); got != "abc…" {
		t.Fatalf("TextPreview() = %q", got)
	}
}
