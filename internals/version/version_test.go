package version

import (
	"strings"
	"testing"
)

func TestVersionStartsWithSemVer(t *testing.T) {
	orig := SemVer
	t.Cleanup(func() { SemVer = orig })

	SemVer = "1.2.3"
	if got := Version(); !strings.HasPrefix(got, "1.2.3") {
		t.Fatalf("expected 1.2.3 prefix, got %q", got)
	}

	SemVer = " "
	if got := Version(); !strings.HasPrefix(got, "0.0.0-dev") {
		t.Fatalf("expected dev fallback, got %q", got)
	}
}

func TestIdentityIsStable(t *testing.T) {
	if Identity() == "" || Identity() != Identity() {
		t.Fatalf("expected a stable non-empty identity")
	}
}

func TestShorten(t *testing.T) {
	if got := shorten("0123456789abcdef"); got != "0123456789ab" {
		t.Fatalf("unexpected %q", got)
	}
	if got := shorten("abc"); got != "abc" {
		t.Fatalf("unexpected %q", got)
	}
}
