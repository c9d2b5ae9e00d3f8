package target_test

import (
	"testing"

	"github.com/zapgate/zapgate/internal/target"
)

func TestSanitize_EmptyPathDefaultsToRoot(t *testing.T) {
	t.Parallel()
	got, err := target.Sanitize("http://example.com")
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}
	if got != "http://example.com/" {
		t.Errorf("expected trailing slash, got %q", got)
	}
}

func TestSanitize_StripsFragment(t *testing.T) {
	t.Parallel()
	got, err := target.Sanitize("http://example.com/app#section")
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}
	if got != "http://example.com/app" {
		t.Errorf("expected fragment stripped, got %q", got)
	}
}

func TestSanitize_StripsEncodedHashInPath(t *testing.T) {
	t.Parallel()
	got, err := target.Sanitize("http://example.com/app%23frag")
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}
	if got != "http://example.com/appfrag" {
		t.Errorf("expected encoded hash stripped, got %q", got)
	}
}

func TestSanitize_KeepsQuery(t *testing.T) {
	t.Parallel()
	got, err := target.Sanitize("http://example.com/search?q=1")
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}
	if got != "http://example.com/search?q=1" {
		t.Errorf("expected query preserved, got %q", got)
	}
}

func TestSanitize_RejectsRelativeURL(t *testing.T) {
	t.Parallel()
	if _, err := target.Sanitize("/just/a/path"); err == nil {
		t.Fatal("expected error for URL without scheme and host")
	}
}

func TestCanonicalBase_DropsQueryAndFragment(t *testing.T) {
	t.Parallel()
	got := target.CanonicalBase("https://example.com/app?x=1#top")
	if got != "https://example.com/app" {
		t.Errorf("expected base form, got %q", got)
	}
}
