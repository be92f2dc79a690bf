package cache

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"proxy-fleet-evaluator/internal/descriptor"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestCache() *Cache {
	return &Cache{
		settings:   Settings{SiteCacheTTL: time.Hour},
		log:        testLogger(),
		processing: make(chan struct{}, 1),
		siteCache:  make(map[string]siteEntry),
	}
}

func TestTop25TruncatesAt25(t *testing.T) {
	all := make([]*descriptor.ServerDescriptor, 40)
	for i := range all {
		all[i] = &descriptor.ServerDescriptor{Address: string(rune('a' + i%26))}
	}
	got := top25(all)
	if len(got) != 25 {
		t.Errorf("top25 returned %d, want 25", len(got))
	}
}

func TestTop25PassesThroughShortLists(t *testing.T) {
	all := make([]*descriptor.ServerDescriptor, 3)
	got := top25(all)
	if len(got) != 3 {
		t.Errorf("top25 returned %d, want 3", len(got))
	}
}

func TestGetTop25NotReadyBeforeFirstRefresh(t *testing.T) {
	c := newTestCache()
	_, ok := c.GetTop25()
	if ok {
		t.Errorf("GetTop25 reported ok=true before any refresh")
	}
}

func TestGetAllNotReadyBeforeFirstRefresh(t *testing.T) {
	c := newTestCache()
	_, ok := c.GetAll()
	if ok {
		t.Errorf("GetAll reported ok=true before any refresh")
	}
}

func TestIsProcessingReflectsSingleFlightSlot(t *testing.T) {
	c := newTestCache()
	if c.IsProcessing() {
		t.Fatalf("IsProcessing() = true on a fresh cache")
	}

	release, ok := c.tryAcquire()
	if !ok {
		t.Fatalf("tryAcquire failed on a fresh cache")
	}
	if !c.IsProcessing() {
		t.Errorf("IsProcessing() = false while the slot is held")
	}
	release()
	if c.IsProcessing() {
		t.Errorf("IsProcessing() = true after release")
	}
}

func TestTryAcquireIsNonBlockingAndExclusive(t *testing.T) {
	c := newTestCache()
	_, ok1 := c.tryAcquire()
	if !ok1 {
		t.Fatalf("first tryAcquire should succeed")
	}
	_, ok2 := c.tryAcquire()
	if ok2 {
		t.Errorf("second concurrent tryAcquire should fail (busy)")
	}
}

func TestGetSiteSpecificServesFreshEntryWithoutEvaluator(t *testing.T) {
	c := newTestCache()
	want := []*descriptor.ServerDescriptor{{Address: "cached.example"}}
	c.setSiteCache("https://example.com", want)

	got, err := c.GetSiteSpecific(nil, "https://example.com")
	if err != nil {
		t.Fatalf("GetSiteSpecific returned error %v, want nil", err)
	}
	if len(got) != 1 || got[0].Address != "cached.example" {
		t.Errorf("GetSiteSpecific = %+v, want the cached entry", got)
	}
}

func TestGetSiteSpecificNotReadyWhenNoBaseCache(t *testing.T) {
	c := newTestCache()
	_, err := c.GetSiteSpecific(nil, "https://example.com")
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("GetSiteSpecific err = %v, want ErrNotReady", err)
	}
}

func TestGetSiteSpecificExpiredEntryFallsThroughToNotReady(t *testing.T) {
	c := newTestCache()
	c.settings.SiteCacheTTL = time.Millisecond
	c.setSiteCache("https://example.com", []*descriptor.ServerDescriptor{{Address: "stale"}})
	time.Sleep(5 * time.Millisecond)

	_, err := c.GetSiteSpecific(nil, "https://example.com")
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("GetSiteSpecific err = %v, want ErrNotReady (expired entry, no base cache)", err)
	}
}

func TestSiteFilenameFromURL(t *testing.T) {
	if got := siteFilename("https://www.example.com/path"); got != "www_example_com.txt" {
		t.Errorf("siteFilename = %q, want %q", got, "www_example_com.txt")
	}
}

func TestSiteFilenameFallsBackOnUnparsableURL(t *testing.T) {
	if got := siteFilename("://not a url"); got != "unknown_site.txt" {
		t.Errorf("siteFilename(invalid) = %q, want %q", got, "unknown_site.txt")
	}
}
