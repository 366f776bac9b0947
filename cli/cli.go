// Package cli provides command-line access to the Ovvio VPN client:
// listing and selecting servers, connecting, and inspecting status
// without a graphical frontend.
package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ovvio/vpn-client/api"
	"github.com/ovvio/vpn-client/common"
	"github.com/ovvio/vpn-client/store"
	"github.com/ovvio/vpn-client/vpn"
)

// platform identifies this client in the servers API.
const platform = "linux"

// CLI drives the connection core from the terminal.
type CLI struct {
	manager *vpn.Manager
	catalog *vpn.Catalog
	prober  *vpn.Prober
	client  *api.Client
	state   *store.Store
}

// New creates a CLI over the assembled client components.
func New(manager *vpn.Manager, catalog *vpn.Catalog, prober *vpn.Prober, client *api.Client, state *store.Store) *CLI {
	return &CLI{
		manager: manager,
		catalog: catalog,
		prober:  prober,
		client:  client,
		state:   state,
	}
}

// Login stores the account credentials the API calls authenticate with.
func (c *CLI) Login(name, token string, premium bool) error {
	if name == "" || token == "" {
		return fmt.Errorf("both a name and a token are required")
	}
	if err := c.state.SetAccount(store.Account{Name: name, Token: token, Premium: premium}); err != nil {
		return fmt.Errorf("failed to store account: %w", err)
	}
	fmt.Printf("Logged in as %s\n", name)
	return nil
}

// Logout clears the stored account.
func (c *CLI) Logout() error {
	if err := c.state.ClearAccount(); err != nil {
		return fmt.Errorf("failed to clear account: %w", err)
	}
	fmt.Println("Logged out.")
	return nil
}

// ListServers prints the server catalog with measured latencies.
func (c *CLI) ListServers(ctx context.Context, tab vpn.Tab, search string) error {
	if err := c.loadCatalog(ctx); err != nil {
		return err
	}

	endpoints := c.catalog.Filter(tab, search)
	if len(endpoints) == 0 {
		fmt.Println("No servers match.")
		return nil
	}

	latencies := c.measureLatencies()
	selectedID := c.catalog.SelectedID()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSERVER\tTIER\tLATENCY\tFAV\t")
	fmt.Fprintln(w, "--\t------\t----\t-------\t---\t")

	for _, e := range endpoints {
		marker := ""
		if e.ID == selectedID {
			marker = " *"
		}

		fav := ""
		if c.catalog.IsFavourite(e.ID) {
			fav = "Yes"
		}

		fmt.Fprintf(w, "%d\t%s%s\t%s\t%s\t%s\t\n",
			e.ID, e.DisplayName(), marker, e.Tier, formatLatency(latencies[e.ID]), fav)
	}

	w.Flush()
	return nil
}

// Select persists the given server as the connection target.
func (c *CLI) Select(ctx context.Context, nameOrID string) error {
	if err := c.loadCatalog(ctx); err != nil {
		return err
	}

	e, err := c.findEndpoint(nameOrID)
	if err != nil {
		return err
	}

	if err := c.catalog.Select(e); err != nil {
		if err == common.ErrUpgradeRequired {
			return fmt.Errorf("%s requires a premium plan", e.DisplayName())
		}
		return err
	}

	fmt.Printf("Selected %s (%s)\n", e.DisplayName(), e.IP)
	return nil
}

// Fastest selects the entitled server with the lowest measured latency.
func (c *CLI) Fastest(ctx context.Context) error {
	if err := c.loadCatalog(ctx); err != nil {
		return err
	}

	fmt.Println("Measuring server latencies...")
	latencies := c.measureLatencies()

	e, ok := c.catalog.Fastest(latencies)
	if !ok {
		return fmt.Errorf("no server responded; try again")
	}

	if err := c.catalog.Select(e); err != nil {
		return err
	}

	lat := latencies[e.ID]
	fmt.Printf("Selected %s (%s, %v)\n", e.DisplayName(), e.IP, lat.RTT.Round(time.Millisecond))
	return nil
}

// Random selects a uniformly random entitled server.
func (c *CLI) Random(ctx context.Context) error {
	if err := c.loadCatalog(ctx); err != nil {
		return err
	}

	e, ok := c.catalog.Random()
	if !ok {
		return fmt.Errorf("no servers available")
	}

	if err := c.catalog.Select(e); err != nil {
		return err
	}

	fmt.Printf("Selected %s (%s)\n", e.DisplayName(), e.IP)
	return nil
}

// Favourite toggles the favourite flag on a server.
func (c *CLI) Favourite(ctx context.Context, nameOrID string) error {
	if err := c.loadCatalog(ctx); err != nil {
		return err
	}

	e, err := c.findEndpoint(nameOrID)
	if err != nil {
		return err
	}

	if err := c.catalog.ToggleFavourite(e.ID); err != nil {
		return err
	}

	if c.catalog.IsFavourite(e.ID) {
		fmt.Printf("Added %s to favourites\n", e.DisplayName())
	} else {
		fmt.Printf("Removed %s from favourites\n", e.DisplayName())
	}
	return nil
}

// Connect establishes the tunnel to the selected server, optionally
// selecting a server first, and waits until it is up.
func (c *CLI) Connect(ctx context.Context, nameOrID string) error {
	if nameOrID != "" {
		if err := c.Select(ctx, nameOrID); err != nil {
			return err
		}
	}

	// Switching servers while connected: tear the old tunnel down first.
	if c.manager.State() != vpn.StateDisconnected {
		c.manager.Disconnect(false)
		if err := c.manager.AwaitDisconnected(ctx, common.DisconnectTimeout); err != nil {
			return fmt.Errorf("previous tunnel did not come down: %w", err)
		}
	}

	errCh := make(chan string, 1)
	c.manager.SetOnError(func(err error, message string) {
		select {
		case errCh <- message:
		default:
		}
	})

	fmt.Println("Connecting...")
	if err := c.manager.Connect(); err != nil {
		switch err {
		case vpn.ErrNoServerSelected:
			return fmt.Errorf("no server selected; use -select or -fastest first")
		case vpn.ErrUpgradeRequired:
			return fmt.Errorf("the selected server requires a premium plan")
		case common.ErrNotAuthenticated:
			return fmt.Errorf("not logged in; use -login first")
		default:
			return fmt.Errorf("connection failed: %w", err)
		}
	}

	timeout := time.After(common.ConnectionTimeout)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.manager.Disconnect(false)
			return fmt.Errorf("cancelled")
		case <-timeout:
			c.manager.Disconnect(false)
			return fmt.Errorf("connection timed out")
		case msg := <-errCh:
			return fmt.Errorf("connection failed: %s", msg)
		case <-ticker.C:
			if c.manager.State() == vpn.StateConnected {
				if info := c.manager.ConnectedServerInfo(); info != nil {
					fmt.Printf("✓ Connected to %s\n", info.DisplayName)
				} else {
					fmt.Println("✓ Connected")
				}
				return nil
			}
		}
	}
}

// Disconnect tears the tunnel down and waits for it to come down.
func (c *CLI) Disconnect(ctx context.Context) error {
	if c.manager.State() == vpn.StateDisconnected {
		fmt.Println("Not connected.")
		return nil
	}

	fmt.Println("Disconnecting...")
	c.manager.Disconnect(true)

	if err := c.manager.AwaitDisconnected(ctx, common.DisconnectTimeout); err != nil {
		return fmt.Errorf("disconnect did not complete: %w", err)
	}

	fmt.Println("✓ Disconnected")
	return nil
}

// Status prints the connection state and the active session, if any.
func (c *CLI) Status() error {
	state := c.manager.State()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATE\tSERVER\tIP\tSESSION\t")
	fmt.Fprintln(w, "-----\t------\t--\t-------\t")

	server, ip, session := "-", "-", "-"
	if info := c.manager.ConnectedServerInfo(); info != nil {
		server = info.DisplayName
		ip = info.IP
	}
	if state == vpn.StateConnected {
		session = c.manager.FormatElapsed()
	}

	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", state, server, ip, session)
	w.Flush()
	return nil
}

// loadCatalog fetches the server list once per invocation.
func (c *CLI) loadCatalog(ctx context.Context) error {
	if len(c.catalog.Endpoints()) > 0 {
		return nil
	}
	if err := c.catalog.Load(ctx, c.client, platform); err != nil {
		if err == common.ErrNotAuthenticated {
			return fmt.Errorf("not logged in; use -login first")
		}
		return fmt.Errorf("failed to load servers: %w", err)
	}
	return nil
}

// measureLatencies runs the prober long enough for one probe cycle to
// settle and returns the snapshot.
func (c *CLI) measureLatencies() map[int]vpn.Latency {
	c.prober.Start()
	defer c.prober.Stop()
	time.Sleep(common.ProbeTimeout + 500*time.Millisecond)
	return c.prober.Results()
}

// findEndpoint resolves a server by numeric id or by case-insensitive
// name match.
func (c *CLI) findEndpoint(nameOrID string) (vpn.Endpoint, error) {
	needle := strings.ToLower(strings.TrimSpace(nameOrID))

	if id, err := strconv.Atoi(needle); err == nil {
		for _, e := range c.catalog.Endpoints() {
			if e.ID == id {
				return e, nil
			}
		}
	}

	for _, e := range c.catalog.Endpoints() {
		name := strings.ToLower(e.DisplayName())
		if name == needle || strings.Contains(name, needle) {
			return e, nil
		}
	}

	return vpn.Endpoint{}, fmt.Errorf("server not found: %s", nameOrID)
}

func formatLatency(lat vpn.Latency) string {
	if lat.State == vpn.LatencyMeasured {
		return lat.RTT.Round(time.Millisecond).String()
	}
	return "-"
}

// PrintHelp prints CLI usage help.
func PrintHelp() {
	fmt.Println(`Ovvio VPN - Command Line Interface

Usage:
  ovvio-vpn [OPTIONS]

Options:
  --version           Show version and exit
  --verbose           Enable verbose logging
  --login NAME:TOKEN  Store account credentials
  --premium           Mark the account as premium (with --login)
  --logout            Clear stored account credentials
  --list              List servers with measured latency
  --tab TAB           Restrict --list to: all, premium, favourites
  --search TEXT       Filter --list by country or location name
  --select NAME       Select a server by name or id
  --fastest           Select the lowest-latency server
  --random            Select a random server
  --favourite NAME    Toggle a server as favourite
  --connect           Connect to the selected server
  --disconnect        Disconnect the active tunnel
  --status            Show connection status
  --help              Show this help message

Examples:
  ovvio-vpn --login alice:eyJhb...
  ovvio-vpn --list --tab favourites
  ovvio-vpn --select "France - Paris"
  ovvio-vpn --fastest
  ovvio-vpn --connect
  ovvio-vpn --status
  ovvio-vpn --disconnect

Notes:
  - strongSwan (charon-cmd) must be installed for tunnel support
  - Premium servers require an account with an active plan
  - Run without options to stay in the foreground and honour auto-connect`)
}
