package urlnorm

import "testing"

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"HTTPS://Example.COM/a/?utm_source=x&b=2&a=1#frag", "https://example.com/a?a=1&b=2"},
		{"https://example.com/a?a=1&b=2", "https://example.com/a?a=1&b=2"},
		{"http://example.com:80/path/", "http://example.com/path"},
		{"https://example.com:443/", "https://example.com/"},
		{"example.com/page?gclid=123&fbclid=abc&q=go", "https://example.com/page?q=go"},
		{"https://news.site/read?ref=home&ref_src=tw&id=9", "https://news.site/read?id=9"},
		{"https://a.com/x?utm_campaign=c&utm_medium=m&utm_id=i", "https://a.com/x"},
		{"https://a.com/x?z=1&y=2&mc_cid=m&mc_eid=e", "https://a.com/x?y=2&z=1"},
	}
	for _, c := range cases {
		got, err := Canonicalize(c.in)
		if err != nil {
			t.Fatalf("Canonicalize(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("Canonicalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCanonicalize_Idempotent(t *testing.T) {
	inputs := []string{
		"HTTPS://Example.COM/a/?utm_source=x&b=2&a=1#frag",
		"https://example.com/",
		"http://sub.example.com/deep/path?x=1",
	}
	for _, in := range inputs {
		once, err := Canonicalize(in)
		if err != nil {
			t.Fatalf("first pass %q: %v", in, err)
		}
		twice, err := Canonicalize(once)
		if err != nil {
			t.Fatalf("second pass %q: %v", once, err)
		}
		if once != twice {
			t.Fatalf("not idempotent: %q -> %q -> %q", in, once, twice)
		}
	}
}

func TestCanonicalize_Rejects(t *testing.T) {
	for _, in := range []string{"", "ftp://example.com/x", "https://"} {
		if _, err := Canonicalize(in); err == nil {
			t.Fatalf("Canonicalize(%q) should fail", in)
		}
	}
}

func TestHostMatches(t *testing.T) {
	cases := []struct {
		host, pattern string
		want          bool
	}{
		{"example.com", "example.com", true},
		{"docs.example.com", "example.com", true},
		{"example.com", "docs.example.com", false},
		{"notexample.com", "example.com", false},
		{"example.com", ".example.com", true},
		{"", "example.com", false},
	}
	for _, c := range cases {
		if got := HostMatches(c.host, c.pattern); got != c.want {
			t.Fatalf("HostMatches(%q, %q) = %v, want %v", c.host, c.pattern, got, c.want)
		}
	}
}

func TestDomain(t *testing.T) {
	if got := Domain("https://Docs.Example.com:8443/a"); got != "docs.example.com" {
		t.Fatalf("Domain = %q", got)
	}
}
