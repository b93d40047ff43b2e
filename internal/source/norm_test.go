package source

import "testing"

func TestNormalizeNameCollapsesAliases(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"SAM.gov", "sam"},
		{"sam_gov", "sam"},
		{"search_sam", "sam"},
		{"sam", "sam"},
		{"WebSearch", "websearch"},
		{"  docarchive  ", "docarchive"},
		{"Doc-Archive", "docarchive"},
	}
	for _, tc := range cases {
		if got := NormalizeName(tc.in); got != tc.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeNameIsIdempotent(t *testing.T) {
	for _, in := range []string{"SAM.gov", "sam_gov", "WebSearch", "already-normal", ""} {
		once := NormalizeName(in)
		if twice := NormalizeName(once); twice != once {
			t.Errorf("NormalizeName not idempotent for %q: %q != %q", in, twice, once)
		}
	}
}

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"HTTPS://Example.COM/Path/", "https://example.com/Path"},
		{"https://example.com/a?utm_source=x&q=1", "https://example.com/a?q=1"},
		{"https://example.com/a?fbclid=abc", "https://example.com/a"},
		{"https://example.com/a#section", "https://example.com/a"},
		{"not a url", "not a url"},
	}
	for _, tc := range cases {
		if got := NormalizeURL(tc.in); got != tc.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeURLIsIdempotent(t *testing.T) {
	for _, in := range []string{
		"HTTPS://Example.COM/Path/",
		"https://example.com/a?utm_source=x&ref=y&q=1",
		"plain text",
	} {
		once := NormalizeURL(in)
		if twice := NormalizeURL(once); twice != once {
			t.Errorf("NormalizeURL not idempotent for %q: %q != %q", in, twice, once)
		}
	}
}

func TestURLHashIsStableAndShort(t *testing.T) {
	a := URLHash("https://example.com/a")
	b := URLHash("https://example.com/a")
	c := URLHash("https://example.com/b")
	if a != b {
		t.Error("same input must hash identically")
	}
	if a == c {
		t.Error("different inputs should not collide on these values")
	}
	if len(a) != 16 {
		t.Errorf("hash length = %d, want 16", len(a))
	}
}
