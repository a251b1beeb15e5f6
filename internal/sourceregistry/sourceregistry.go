// Package sourceregistry implements the Source Registry (C1): the static,
// in-process catalog of portals, their fetch method, rate limits and the
// regexes the change detector and downloader need, plus the egress
// allowlist every outbound call must consult.
package sourceregistry

import (
	"net/url"
	"strings"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/sportrank/ingest/internal/model"
)

// Registry is the canonical, in-process configuration of known portals.
// register_host is a single-writer-many-reader operation implemented as an
// atomic swap of an immutable host set, matching the teacher's connector
// abstraction's "no shared mutable state" house style rather than a
// mutex-guarded map.
type Registry struct {
	sources map[string]*Source

	// allowlist is swapped atomically on RegisterHost; readers never lock.
	allowlist atomic.Pointer[map[string]struct{}]
}

// Source wraps model.Source with the rate limiter the downloader and
// change detector borrow from, grounded on the teacher's BaseConnector
// pairing a trust class with a golang.org/x/time/rate.Limiter.
type Source struct {
	model.Source
	Limiter *rate.Limiter
}

// New builds a Registry from a fixed set of sources, computing the
// initial egress allowlist as the union of every base/listing URL host.
func New(sources []model.Source) *Registry {
	r := &Registry{sources: make(map[string]*Source, len(sources))}
	hosts := make(map[string]struct{})

	for _, s := range sources {
		src := &Source{Source: s, Limiter: newLimiter(s)}
		r.sources[s.Code] = src

		for _, h := range hostsOf(s) {
			hosts[h] = struct{}{}
		}
	}
	r.allowlist.Store(&hosts)
	return r
}

func newLimiter(s model.Source) *rate.Limiter {
	delay := s.DelayMin
	if delay <= 0 {
		delay = s.DelayMax
	}
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

func hostsOf(s model.Source) []string {
	var hosts []string
	if h := hostOf(s.BaseURL); h != "" {
		hosts = append(hosts, h)
	}
	for _, u := range s.ListingURLs {
		if h := hostOf(u); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Get returns a source by code.
func (r *Registry) Get(code string) (*Source, bool) {
	s, ok := r.sources[code]
	return s, ok
}

// Active returns every active source, for the change detector's sweep.
func (r *Registry) Active() []*Source {
	out := make([]*Source, 0, len(r.sources))
	for _, s := range r.sources {
		if s.Active {
			out = append(out, s)
		}
	}
	return out
}

// RegisterHost adds a host to the egress allowlist, effective immediately
// for every subsequent Allowed call. Removal is not supported at runtime;
// it requires restarting the process with an updated source set.
func (r *Registry) RegisterHost(host string) {
	host = strings.ToLower(host)
	old := r.allowlist.Load()
	next := make(map[string]struct{}, len(*old)+1)
	for h := range *old {
		next[h] = struct{}{}
	}
	next[host] = struct{}{}
	r.allowlist.Store(&next)
}

// Allowed reports whether host is in the current egress allowlist.
func (r *Registry) Allowed(host string) bool {
	set := r.allowlist.Load()
	_, ok := (*set)[strings.ToLower(host)]
	return ok
}

// Allowlist returns a snapshot of every currently-allowed host.
func (r *Registry) Allowlist() []string {
	set := r.allowlist.Load()
	out := make([]string, 0, len(*set))
	for h := range *set {
		out = append(out, h)
	}
	return out
}
