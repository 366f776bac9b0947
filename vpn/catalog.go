// Package vpn implements the connection lifecycle core of the Ovvio VPN
// client. This file contains the Catalog type: the flattened list of
// connectable endpoints with filtering, favourites, and gated
// selection.
package vpn

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/ovvio/vpn-client/common"
	"github.com/ovvio/vpn-client/store"
)

// Tab selects which slice of the catalog is shown.
type Tab int

const (
	TabAll Tab = iota
	TabPremium
	TabFavourites
)

// String returns a human-readable representation of the tab.
func (t Tab) String() string {
	switch t {
	case TabAll:
		return "All Servers"
	case TabPremium:
		return "Premium"
	case TabFavourites:
		return "Favourites"
	default:
		return "Unknown"
	}
}

// ServerLister fetches the server topology from the backend API.
type ServerLister interface {
	Servers(ctx context.Context, platform, token string) ([]Country, error)
}

// Catalog holds the flattened endpoint list and the user's favourites.
// Endpoints are immutable between loads; favourites are persisted
// independently of catalog content, so favourite ids referencing
// removed endpoints are tolerated and simply never match.
type Catalog struct {
	state        StateStore
	entitlements common.Entitlements

	mu         sync.RWMutex
	endpoints  []Endpoint
	favourites map[int]bool
	selectedID int
}

// NewCatalog creates a catalog, restoring favourites and the selected
// endpoint id from persisted state.
func NewCatalog(state StateStore, entitlements common.Entitlements) (*Catalog, error) {
	c := &Catalog{
		state:        state,
		entitlements: entitlements,
		favourites:   make(map[int]bool),
	}

	ids, err := state.Favourites()
	if err != nil {
		return nil, common.WrapError(err, "failed to load favourites")
	}
	for _, id := range ids {
		c.favourites[id] = true
	}

	if sel, ok, err := state.Selection(); err == nil && ok {
		c.selectedID = sel.EndpointID
	}

	return c, nil
}

// Load fetches the server topology and replaces the endpoint list.
func (c *Catalog) Load(ctx context.Context, lister ServerLister, platform string) error {
	acc, ok, err := c.state.Account()
	if err != nil {
		return common.WrapError(err, "failed to read account")
	}
	if !ok {
		return common.ErrNotAuthenticated
	}

	countries, err := lister.Servers(ctx, platform, acc.Token)
	if err != nil {
		return common.WrapError(err, "failed to load servers")
	}

	endpoints := Flatten(countries)

	c.mu.Lock()
	c.endpoints = endpoints
	c.mu.Unlock()

	common.LogInfo("Server catalog loaded: %d endpoints", len(endpoints))
	return nil
}

// SetEndpoints replaces the endpoint list directly. Used by tests and
// by callers that fetch the topology themselves.
func (c *Catalog) SetEndpoints(endpoints []Endpoint) {
	c.mu.Lock()
	c.endpoints = endpoints
	c.mu.Unlock()
}

// Endpoints returns a snapshot of the full endpoint list.
func (c *Catalog) Endpoints() []Endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Endpoint(nil), c.endpoints...)
}

// SelectedID returns the id of the currently selected endpoint, or 0.
func (c *Catalog) SelectedID() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selectedID
}

// Filter returns the endpoints matching the tab and search text.
// Search is a case-insensitive substring match against the country
// name or the sub-server name.
func (c *Catalog) Filter(tab Tab, search string) []Endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var base []Endpoint
	switch tab {
	case TabPremium:
		for _, e := range c.endpoints {
			if e.IsPremium() {
				base = append(base, e)
			}
		}
	case TabFavourites:
		for _, e := range c.endpoints {
			if c.favourites[e.ID] {
				base = append(base, e)
			}
		}
	default:
		base = append(base, c.endpoints...)
	}

	if search == "" {
		return base
	}

	needle := strings.ToLower(search)
	var matched []Endpoint
	for _, e := range base {
		if strings.Contains(strings.ToLower(e.CountryName), needle) ||
			strings.Contains(strings.ToLower(e.SubName), needle) {
			matched = append(matched, e)
		}
	}
	return matched
}

// Select persists the endpoint as the current selection. Premium
// endpoints are refused without a premium entitlement; the same gate
// is re-checked by the Manager at connect time.
func (c *Catalog) Select(e Endpoint) error {
	if e.IsPremium() && !c.entitlements.IsPremium() {
		return common.ErrUpgradeRequired
	}

	if err := c.state.SaveSelection(store.Selection{
		EndpointID:  e.ID,
		SubServerID: e.ID,
		IP:          e.IP,
		Domain:      e.Domain,
		DisplayName: e.DisplayName(),
		ImageURL:    e.CountryImage,
		Tier:        e.Tier,
	}); err != nil {
		return common.WrapError(err, "failed to persist selection")
	}

	c.mu.Lock()
	c.selectedID = e.ID
	c.mu.Unlock()

	common.LogInfo("Selected server: %s (%s)", e.DisplayName(), e.IP)
	return nil
}

// ToggleFavourite flips the favourite flag for an endpoint id and
// persists the set.
func (c *Catalog) ToggleFavourite(id int) error {
	c.mu.Lock()
	if c.favourites[id] {
		delete(c.favourites, id)
	} else {
		c.favourites[id] = true
	}
	ids := make([]int, 0, len(c.favourites))
	for fav := range c.favourites {
		ids = append(ids, fav)
	}
	c.mu.Unlock()

	return c.state.SetFavourites(ids)
}

// IsFavourite reports whether an endpoint id is favourited.
func (c *Catalog) IsFavourite(id int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.favourites[id]
}

// entitled returns the endpoints the current account may connect to:
// free endpoints always, premium only with the entitlement.
func (c *Catalog) entitled() []Endpoint {
	premium := c.entitlements.IsPremium()

	c.mu.RLock()
	defer c.mu.RUnlock()

	var allowed []Endpoint
	for _, e := range c.endpoints {
		if e.IsPremium() && !premium {
			continue
		}
		allowed = append(allowed, e)
	}
	return allowed
}

// Fastest returns the entitled endpoint with the lowest measured
// latency. ok is false while no entitled endpoint has a measured,
// non-failed latency yet.
func (c *Catalog) Fastest(latencies map[int]Latency) (Endpoint, bool) {
	var best Endpoint
	var bestRTT time.Duration
	found := false

	for _, e := range c.entitled() {
		lat, ok := latencies[e.ID]
		if !ok || lat.State != LatencyMeasured {
			continue
		}
		if !found || lat.RTT < bestRTT {
			best = e
			bestRTT = lat.RTT
			found = true
		}
	}

	return best, found
}

// Random returns a uniformly random entitled endpoint. ok is false
// when the entitled set is empty.
func (c *Catalog) Random() (Endpoint, bool) {
	allowed := c.entitled()
	if len(allowed) == 0 {
		return Endpoint{}, false
	}
	return allowed[rand.Intn(len(allowed))], true
}
