// Package cache holds the evaluator's published state: the full ranked
// server list, its top-25 slice, and a per-site TTL cache, refreshed
// periodically by a single-flight background loop.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"proxy-fleet-evaluator/internal/descriptor"
	"proxy-fleet-evaluator/internal/evaluator"
	"proxy-fleet-evaluator/internal/kv"
	"proxy-fleet-evaluator/internal/publisher"
)

// ErrBusy is returned when a probe-producing path is attempted while a
// refresh is already in flight.
var ErrBusy = errors.New("cache: a refresh is already in progress")

// ErrNotReady is returned when the cache has never completed a refresh.
var ErrNotReady = errors.New("cache: no data cached yet")

const workingServersKey = "working_servers"

// Settings carries the cache-relevant subset of the running configuration.
type Settings struct {
	RefreshInterval  time.Duration
	SiteCacheTTL     time.Duration
	PrecheckSites    []string
	PublishFilename  string
	PublishEnabled   bool
}

type siteEntry struct {
	cachedAt time.Time
	servers  []*descriptor.ServerDescriptor
}

// Cache is the HTTP surface's sole collaborator: every §6 endpoint reads
// from here.
type Cache struct {
	settings Settings
	eval     *evaluator.Evaluator
	kv       *kv.Store
	pub      *publisher.Publisher
	log      *logrus.Logger

	mu         sync.RWMutex
	cachedAll  []*descriptor.ServerDescriptor
	cachedTop  []*descriptor.ServerDescriptor
	hasData    bool

	processing chan struct{}

	siteMu    sync.Mutex
	siteCache map[string]siteEntry
}

// New returns a Cache wired to its collaborators. It attempts a best-effort
// hydration from KV so a process restart can serve the previous run's
// working set instead of 503ing until the next refresh.
func New(settings Settings, eval *evaluator.Evaluator, store *kv.Store, pub *publisher.Publisher, log *logrus.Logger) *Cache {
	c := &Cache{
		settings:   settings,
		eval:       eval,
		kv:         store,
		pub:        pub,
		log:        log,
		processing: make(chan struct{}, 1),
		siteCache:  make(map[string]siteEntry),
	}
	c.hydrate()
	return c
}

// hydrate attempts to populate cachedAll/cachedTop from the persisted
// working_servers key. Any failure (no KV configured, key missing,
// corrupt JSON) is logged and ignored: the cache simply stays empty until
// the next Refresh, matching every other adapter's best-effort contract.
func (c *Cache) hydrate() {
	raw, ok := c.kv.Get(context.Background(), workingServersKey)
	if !ok {
		return
	}
	var servers []*descriptor.ServerDescriptor
	if err := json.Unmarshal(raw, &servers); err != nil {
		c.log.WithError(err).Warn("failed to unmarshal hydrated working servers, ignoring")
		return
	}

	c.mu.Lock()
	c.cachedAll = servers
	c.cachedTop = top25(servers)
	c.hasData = true
	c.mu.Unlock()

	c.log.WithField("count", len(servers)).Info("hydrated cache from kv")
}

// IsProcessing reports whether a refresh is currently in flight.
func (c *Cache) IsProcessing() bool {
	select {
	case c.processing <- struct{}{}:
		<-c.processing
		return false
	default:
		return true
	}
}

// tryAcquire attempts to take the single-flight admission slot without
// blocking. release must be called exactly once if acquired==true.
func (c *Cache) tryAcquire() (release func(), acquired bool) {
	select {
	case c.processing <- struct{}{}:
		return func() { <-c.processing }, true
	default:
		return nil, false
	}
}

// Refresh runs one full evaluation pass and republishes the result. It
// returns ErrBusy immediately if another refresh is already running; the
// periodic loop is the only retry mechanism, so a skipped tick is not
// queued.
func (c *Cache) Refresh(ctx context.Context) error {
	release, ok := c.tryAcquire()
	if !ok {
		c.log.Warn("skipping update, a test is already in progress")
		return ErrBusy
	}
	defer release()

	top := c.eval.ComputeTopServers(ctx)

	c.mu.Lock()
	c.cachedAll = top
	c.cachedTop = top25(top)
	c.hasData = true
	c.mu.Unlock()

	c.log.WithField("count", len(top)).Info("cache updated")

	c.publishWorkingServers(top)
	c.precheckSites(ctx, top)
	return nil
}

func top25(all []*descriptor.ServerDescriptor) []*descriptor.ServerDescriptor {
	if len(all) <= 25 {
		return all
	}
	return all[:25]
}

func (c *Cache) publishWorkingServers(servers []*descriptor.ServerDescriptor) {
	raw, err := json.Marshal(servers)
	if err != nil {
		c.log.WithError(err).Error("failed to marshal working servers for kv/publish")
		return
	}
	c.kv.Set(context.Background(), workingServersKey, raw, 0)

	if !c.settings.PublishEnabled || len(servers) == 0 {
		return
	}
	lines := make([]string, len(servers))
	for i, d := range servers {
		lines[i] = d.RawURI
	}
	c.pub.UpdateFileAndPush(c.settings.PublishFilename, strings.Join(lines, "\n"))
}

func (c *Cache) precheckSites(ctx context.Context, top []*descriptor.ServerDescriptor) {
	if len(c.settings.PrecheckSites) == 0 || len(top) == 0 {
		return
	}
	for _, site := range c.settings.PrecheckSites {
		valid := c.eval.EvaluateSiteAccessibility(ctx, site, top)
		c.setSiteCache(site, valid)
		c.log.WithFields(logrus.Fields{"site": site, "count": len(valid)}).Info("pre-warmed site cache")

		if c.settings.PublishEnabled && len(valid) > 0 {
			lines := make([]string, len(valid))
			for i, d := range valid {
				lines[i] = d.RawURI
			}
			c.pub.UpdateFileAndPush(siteFilename(site), strings.Join(lines, "\n"))
		}
	}
}

func siteFilename(siteURL string) string {
	u, err := url.Parse(siteURL)
	if err != nil || u.Hostname() == "" {
		return publisher.SiteFilename("")
	}
	return publisher.SiteFilename(u.Hostname())
}

func (c *Cache) setSiteCache(site string, servers []*descriptor.ServerDescriptor) {
	c.siteMu.Lock()
	c.siteCache[site] = siteEntry{cachedAt: time.Now(), servers: servers}
	c.siteMu.Unlock()
}

// GetTop25 returns the cached top-25 slice. ok is false before the first
// successful refresh.
func (c *Cache) GetTop25() (servers []*descriptor.ServerDescriptor, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cachedTop, c.hasData
}

// GetAll returns the full cached working-server list. ok is false before the
// first successful refresh.
func (c *Cache) GetAll() (servers []*descriptor.ServerDescriptor, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cachedAll, c.hasData
}

// GetSiteSpecific returns the servers known to reach siteURL. It serves a
// fresh site-cache entry if one exists within SiteCacheTTL; otherwise it
// runs a live check against the current full cache, subject to the same
// single-flight admission as Refresh (ErrBusy) and requires a prior refresh
// to have populated the base list (ErrNotReady).
func (c *Cache) GetSiteSpecific(ctx context.Context, siteURL string) ([]*descriptor.ServerDescriptor, error) {
	c.siteMu.Lock()
	entry, found := c.siteCache[siteURL]
	c.siteMu.Unlock()
	if found && time.Since(entry.cachedAt) < c.settings.SiteCacheTTL {
		return entry.servers, nil
	}

	c.mu.RLock()
	base := c.cachedAll
	ready := c.hasData
	c.mu.RUnlock()
	if !ready || len(base) == 0 {
		return nil, ErrNotReady
	}

	release, ok := c.tryAcquire()
	if !ok {
		return nil, ErrBusy
	}
	defer release()

	valid := c.eval.EvaluateSiteAccessibility(ctx, siteURL, base)
	c.setSiteCache(siteURL, valid)
	return valid, nil
}

// StartPeriodic runs Refresh once immediately, then on every RefreshInterval
// tick, until ctx is cancelled.
func (c *Cache) StartPeriodic(ctx context.Context) {
	for {
		c.log.Info("periodic cache update started")
		if err := c.Refresh(ctx); err != nil && !errors.Is(err, ErrBusy) {
			c.log.WithError(err).Error("periodic cache update failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.settings.RefreshInterval):
		}
	}
}

// Live runs one on-demand evaluation pass without mutating any cache state,
// per the external /servers/live contract.
func (c *Cache) Live(ctx context.Context) ([]*descriptor.ServerDescriptor, error) {
	release, ok := c.tryAcquire()
	if !ok {
		return nil, ErrBusy
	}
	defer release()
	return c.eval.ComputeTopServers(ctx), nil
}
