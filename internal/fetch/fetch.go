// Package fetch retrieves subscription feeds and turns them into
// descriptor.ServerDescriptor sequences, isolating per-feed failures so one
// bad subscription URL never blocks the others.
package fetch

import (
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"proxy-fleet-evaluator/internal/descriptor"
	"proxy-fleet-evaluator/internal/fingerprint"
	"proxy-fleet-evaluator/internal/parseuri"
)

const fetchTimeout = 30 * time.Second

// Fetcher pulls descriptors from subscription URLs.
type Fetcher struct {
	client *resty.Client
	parser *parseuri.Parser
	log    *logrus.Logger
}

// New builds a Fetcher. The client never inherits proxy environment
// variables: the subscription body itself must never be retrieved through a
// previous run's candidate proxy.
func New(log *logrus.Logger) *Fetcher {
	client := resty.New().
		SetTimeout(fetchTimeout).
		SetRetryCount(0).
		RemoveProxy()

	return &Fetcher{
		client: client,
		parser: parseuri.New(log),
		log:    log,
	}
}

// FetchAll retrieves every URL concurrently and returns the deduplicated,
// first-seen-wins concatenation of descriptors. A single URL's failure is
// logged and otherwise ignored.
func (f *Fetcher) FetchAll(urls []string) []*descriptor.ServerDescriptor {
	var wg sync.WaitGroup
	perFeed := make([][]*descriptor.ServerDescriptor, len(urls))

	for i, u := range urls {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			descs, err := f.fetchOne(url)
			if err != nil {
				f.log.WithFields(logrus.Fields{"url": url, "err": err}).Warn("feed fetch failed")
				return
			}
			perFeed[i] = descs
		}(i, u)
	}
	wg.Wait()

	all := make([]*descriptor.ServerDescriptor, 0, len(urls)*32)
	for _, feed := range perFeed {
		all = append(all, feed...)
	}
	return fingerprint.Dedup(all)
}

// fetchOne implements the single-feed contract: GET, HTML sniff, permissive
// Base64 decode, line split, parse.
func (f *Fetcher) fetchOne(url string) ([]*descriptor.ServerDescriptor, error) {
	resp, err := f.client.R().Get(url)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("get %s: status %d", url, resp.StatusCode())
	}

	body := resp.Body()
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "<") {
		return nil, fmt.Errorf("feed %s looks like html, not a subscription body", url)
	}

	payload := trimmed
	if decoded, ok := tryBase64(trimmed); ok {
		payload = decoded
	}

	var out []*descriptor.ServerDescriptor
	for _, line := range strings.Split(payload, "\n") {
		line = strings.TrimSpace(strings.TrimRight(line, "\r"))
		if line == "" {
			continue
		}
		if d, ok := f.parser.Parse(line); ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// tryBase64 attempts a permissive whole-body decode. A feed is free to be
// either raw newline-separated URIs or a single Base64 blob of the same.
func tryBase64(body string) (string, bool) {
	candidate := body
	if rem := len(candidate) % 4; rem != 0 {
		candidate += strings.Repeat("=", 4-rem)
	}
	decoded, err := base64.StdEncoding.DecodeString(candidate)
	if err != nil {
		decoded, err = base64.URLEncoding.DecodeString(candidate)
		if err != nil {
			return "", false
		}
	}
	return string(decoded), true
}

// TruncateForLowInternet applies LOW_INTERNET_LIMIT when LOW_INTERNET_CONS is
// set, ahead of probing.
func TruncateForLowInternet(descs []*descriptor.ServerDescriptor, enabled bool, limit int) []*descriptor.ServerDescriptor {
	if !enabled || limit <= 0 || len(descs) <= limit {
		return descs
	}
	return descs[:limit]
}
