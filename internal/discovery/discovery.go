// Package discovery locates release tags and manifest bytes on the
// repository host, with a two-tier strategy (releases API, then Atom feed
// fallback) and a short-lived in-memory cache. Grounded on the teacher's
// ttlcache-fronted provider shape (cache.go's Get/Set-under-mutex pattern)
// and the submitter's backoff.Retry idiom for transient network failures.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jellydator/ttlcache/v3"
	"github.com/petitechose-midi-studio/ms-manager/internal/apierr"
	"github.com/petitechose-midi-studio/ms-manager/internal/channel"
)

const (
	defaultCacheTTL  = 60 * time.Second
	defaultMaxTries  = 3
	defaultPerPage   = 100
)

// Release is the subset of the GitHub releases API response this package
// consumes.
type Release struct {
	TagName    string `json:"tag_name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// Config wires a Discoverer's collaborators.
type Config struct {
	// Slug is "<owner>/<repo>" for the product repository whose releases
	// are being discovered.
	Slug       string
	HTTPClient *http.Client
	CacheTTL   time.Duration
	MaxTries   uint
}

// Discoverer finds release tags via the two-tier releases-API/Atom-feed
// strategy and caches results briefly per channel.
type Discoverer struct {
	slug   string
	client *http.Client

	cache   *ttlcache.Cache[string, []string]
	cacheMu sync.RWMutex
	ttl     time.Duration
	maxTries uint
}

// New constructs a Discoverer for the given repository slug.
func New(cfg Config) *Discoverer {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = defaultCacheTTL
	}
	maxTries := cfg.MaxTries
	if maxTries == 0 {
		maxTries = defaultMaxTries
	}
	cache := ttlcache.New(ttlcache.WithTTL[string, []string](ttl))
	return &Discoverer{slug: cfg.Slug, client: client, cache: cache, ttl: ttl, maxTries: maxTries}
}

var atomTagRe = regexp.MustCompile(`/releases/tag/([A-Za-z0-9._-]+)`)

// ListTagsForChannel returns every tag belonging to ch, newest first,
// de-duplicating adjacent duplicates.
func (d *Discoverer) ListTagsForChannel(ctx context.Context, ch channel.Channel) ([]string, error) {
	if tags := d.getCached(ch); tags != nil {
		return tags, nil
	}

	tags, err := d.listFromReleasesAPI(ctx, ch)
	if err != nil || len(tags) == 0 {
		tags, err = d.listFromAtomFeed(ctx, ch)
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(tags, func(i, j int) bool {
		ord, ok := channel.Compare(ch, tags[i], tags[j])
		if !ok {
			return false
		}
		return ord == channel.Greater
	})
	tags = dedupAdjacent(tags)

	d.setCached(ch, tags)
	return tags, nil
}

// LatestTag returns the newest tag on ch, or ok=false if none is published.
func (d *Discoverer) LatestTag(ctx context.Context, ch channel.Channel) (tag string, ok bool, err error) {
	tags, err := d.ListTagsForChannel(ctx, ch)
	if err != nil {
		return "", false, err
	}
	if len(tags) == 0 {
		return "", false, nil
	}
	return tags[0], true, nil
}

func (d *Discoverer) getCached(ch channel.Channel) []string {
	d.cacheMu.RLock()
	defer d.cacheMu.RUnlock()
	item := d.cache.Get(string(ch))
	if item == nil {
		return nil
	}
	return item.Value()
}

func (d *Discoverer) setCached(ch channel.Channel, tags []string) {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	d.cache.Set(string(ch), tags, d.ttl)
}

func (d *Discoverer) listFromReleasesAPI(ctx context.Context, ch channel.Channel) ([]string, error) {
	url := fmt.Sprintf("https://api.github.com/repos/%s/releases?per_page=%d", d.slug, defaultPerPage)
	body, err := d.getWithRetry(ctx, url)
	if err != nil {
		return nil, err
	}

	var releases []Release
	if err := json.Unmarshal(body, &releases); err != nil {
		return nil, apierr.Wrap(apierr.CodeJSONParseFailed, "failed to parse releases list", err)
	}

	var tags []string
	for _, r := range releases {
		if r.Draft {
			continue
		}
		rc, ok := channel.Classify(r.TagName)
		if !ok || rc != ch {
			continue
		}
		wantPrerelease := ch != channel.Stable
		if r.Prerelease != wantPrerelease {
			continue
		}
		tags = append(tags, r.TagName)
	}
	return tags, nil
}

func (d *Discoverer) listFromAtomFeed(ctx context.Context, ch channel.Channel) ([]string, error) {
	url := fmt.Sprintf("https://github.com/%s/releases.atom", d.slug)
	body, err := d.getWithRetry(ctx, url)
	if err != nil {
		return nil, err
	}

	var tags []string
	seen := map[string]bool{}
	for _, m := range atomTagRe.FindAllStringSubmatch(string(body), -1) {
		tag := m[1]
		if seen[tag] {
			continue
		}
		seen[tag] = true
		if rc, ok := channel.Classify(tag); ok && rc == ch {
			tags = append(tags, tag)
		}
	}
	return tags, nil
}

// getWithRetry issues a GET with a small bounded retry ladder for transient
// network failures, grounded on the teacher's jittered-backoff submitter
// loop.
func (d *Discoverer) getWithRetry(ctx context.Context, url string) ([]byte, error) {
	return backoff.Retry(ctx, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, backoff.Permanent(apierr.Wrap(apierr.CodeHTTPRequestFailed, "", err))
		}
		resp, err := d.client.Do(req)
		if err != nil {
			return nil, apierr.Wrap(apierr.CodeHTTPRequestFailed, "", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return nil, backoff.Permanent(apierr.New(apierr.CodeHTTPStatus, "not found").WithDetail("url", url).WithDetail("status", resp.StatusCode))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, apierr.New(apierr.CodeHTTPStatus, fmt.Sprintf("unexpected status %d", resp.StatusCode)).
				WithDetail("url", url).WithDetail("status", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, apierr.Wrap(apierr.CodeHTTPReadFailed, "", err)
		}
		return body, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(d.maxTries))
}

func dedupAdjacent(tags []string) []string {
	if len(tags) == 0 {
		return tags
	}
	out := tags[:1]
	for _, t := range tags[1:] {
		if t != out[len(out)-1] {
			out = append(out, t)
		}
	}
	return out
}
