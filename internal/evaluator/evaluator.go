// Package evaluator runs one full fetch → dedupe → batch → probe → rank →
// enrich pass over the configured subscription feeds, producing the ranked
// working-server list the cache publishes.
package evaluator

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"proxy-fleet-evaluator/internal/descriptor"
	"proxy-fleet-evaluator/internal/fetch"
	"proxy-fleet-evaluator/internal/genuri"
	"proxy-fleet-evaluator/internal/geoip"
	"proxy-fleet-evaluator/internal/probe"
)

// Settings carries the evaluator-relevant subset of the running
// configuration.
type Settings struct {
	SubURLs          []string
	BatchSize        int
	MaxDelayMS       int
	LowInternetCons  bool
	LowInternetLimit int
}

// Evaluator composes the pipeline stages.
type Evaluator struct {
	settings Settings
	fetcher  *fetch.Fetcher
	prober   *probe.Runner
	geo      *geoip.Reader
	log      *logrus.Logger
}

// New returns an Evaluator wired to its collaborators.
func New(settings Settings, fetcher *fetch.Fetcher, prober *probe.Runner, geo *geoip.Reader, log *logrus.Logger) *Evaluator {
	return &Evaluator{settings: settings, fetcher: fetcher, prober: prober, geo: geo, log: log}
}

// FetchCandidates retrieves and deduplicates every configured feed, applying
// the low-internet-consumption cap before any probing happens.
func (e *Evaluator) FetchCandidates() []*descriptor.ServerDescriptor {
	e.log.Info("fetching subscriptions")
	all := e.fetcher.FetchAll(e.settings.SubURLs)
	e.log.WithField("count", len(all)).Info("total unique servers found")
	return fetch.TruncateForLowInternet(all, e.settings.LowInternetCons, e.settings.LowInternetLimit)
}

// ComputeTopServers runs the full pipeline: fetch, batch-probe for latency,
// drop anything over MaxDelayMS, sort ascending by delay, then enrich with
// GeoIP country/flag and a regenerated URI/remark.
func (e *Evaluator) ComputeTopServers(ctx context.Context) []*descriptor.ServerDescriptor {
	candidates := e.FetchCandidates()
	if len(candidates) == 0 {
		return nil
	}

	results := e.probeAllBatches(ctx, candidates)
	successful := rankWorking(results, e.settings.MaxDelayMS)
	e.log.WithField("count", len(successful)).Info("found working servers")

	enriched := make([]*descriptor.ServerDescriptor, 0, len(successful))
	for _, s := range successful {
		d := s.Descriptor.Clone()
		d.DelayMS = int(math.Round(s.DelayMS))

		countryCode, flag := e.geo.Lookup(d.Address)
		d.CountryCode = countryCode
		d.Flag = flag
		d.Remark = fmt.Sprintf("%s %s %dms", flag, countryCode, d.DelayMS)
		d.RawURI = genuri.Generate(d)

		enriched = append(enriched, d)
	}
	return enriched
}

// batchRange is a half-open [Start, End) slice boundary into a candidate
// list.
type batchRange struct {
	Start, End int
}

// batchRanges splits n items into chunks of at most size, in order.
func batchRanges(n, size int) []batchRange {
	if size <= 0 {
		if n == 0 {
			return nil
		}
		return []batchRange{{0, n}}
	}
	var out []batchRange
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, batchRange{start, end})
	}
	return out
}

// rankWorking filters results to MaxDelayMS and sorts ascending by delay,
// preserving the input order among equal delays.
func rankWorking(results []probe.Result, maxDelayMS int) []probe.Result {
	var successful []probe.Result
	for _, r := range results {
		if r.DelayMS <= float64(maxDelayMS) {
			successful = append(successful, r)
		}
	}
	sort.SliceStable(successful, func(i, j int) bool { return successful[i].DelayMS < successful[j].DelayMS })
	return successful
}

// probeAllBatches splits candidates into BatchSize chunks and probes each in
// turn, concatenating results in candidate order.
func (e *Evaluator) probeAllBatches(ctx context.Context, candidates []*descriptor.ServerDescriptor) []probe.Result {
	var all []probe.Result
	for i, br := range batchRanges(len(candidates), e.settings.BatchSize) {
		batch := candidates[br.Start:br.End]
		e.log.WithField("batch", i+1).Info("testing batch")
		all = append(all, e.prober.RunBatch(ctx, batch)...)
	}
	return all
}

// EvaluateSiteAccessibility tests every server in servers against targetURL,
// batching the same way ComputeTopServers does, returning only the subset
// that succeeded.
func (e *Evaluator) EvaluateSiteAccessibility(ctx context.Context, targetURL string, servers []*descriptor.ServerDescriptor) []*descriptor.ServerDescriptor {
	var out []*descriptor.ServerDescriptor
	for _, br := range batchRanges(len(servers), e.settings.BatchSize) {
		out = append(out, e.prober.CheckSite(ctx, servers[br.Start:br.End], targetURL)...)
	}
	return out
}
