package geoip

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"proxy-fleet-evaluator/internal/descriptor"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestOpenMissingFileDegradesToDefault(t *testing.T) {
	r := Open("/nonexistent/path/to/Country.mmdb", testLogger())
	defer r.Close()

	code, flag := r.Lookup("8.8.8.8")
	if code != descriptor.DefaultCountryCode || flag != descriptor.DefaultFlag {
		t.Errorf("Lookup with no db = (%q, %q), want (%q, %q)", code, flag, descriptor.DefaultCountryCode, descriptor.DefaultFlag)
	}
}

func TestLookupNonIPAddressDefaults(t *testing.T) {
	r := Open("/nonexistent/path/to/Country.mmdb", testLogger())
	defer r.Close()

	code, flag := r.Lookup("example.com")
	if code != descriptor.DefaultCountryCode || flag != descriptor.DefaultFlag {
		t.Errorf("Lookup(hostname) = (%q, %q), want default", code, flag)
	}
}

func TestFlagEmojiFromISOCode(t *testing.T) {
	got := flagEmoji("US")
	want := "\U0001F1FA\U0001F1F8"
	if got != want {
		t.Errorf("flagEmoji(US) = %q, want %q", got, want)
	}
}

func TestFlagEmojiLowercaseNormalized(t *testing.T) {
	if flagEmoji("us") != flagEmoji("US") {
		t.Errorf("flagEmoji is not case-insensitive")
	}
}
