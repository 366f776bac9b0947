// Package main provides the entry point for the Ovvio VPN client.
// Ovvio VPN is an IKEv2 VPN client for Linux built on strongSwan that
// manages server selection, client registration, and the tunnel
// lifecycle from the terminal.
//
// Features:
//   - Server catalog with favourites and latency measurement
//   - Automatic client registration with the VPN gateways
//   - Secure credential storage using the system keyring
//   - Auto-connect on launch to the last selected server
//   - Command-line interface for scripting and automation
//
// Usage:
//
//	ovvio-vpn [options]
//
// Environment:
//
//	The application requires strongSwan (charon-cmd) to be installed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ovvio/vpn-client/api"
	"github.com/ovvio/vpn-client/cli"
	"github.com/ovvio/vpn-client/common"
	"github.com/ovvio/vpn-client/config"
	"github.com/ovvio/vpn-client/keyring"
	"github.com/ovvio/vpn-client/store"
	"github.com/ovvio/vpn-client/vpn"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

var (
	// General flags
	showVersion = flag.Bool("version", false, "Show version and exit")
	verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	showHelp    = flag.Bool("help", false, "Show help message")

	// Account flags
	loginFlag   = flag.String("login", "", "Store account credentials as NAME:TOKEN")
	premiumFlag = flag.Bool("premium", false, "Mark the account as premium (with -login)")
	logoutFlag  = flag.Bool("logout", false, "Clear stored account credentials")

	// Catalog flags
	listServers  = flag.Bool("list", false, "List servers with measured latency")
	tabFlag      = flag.String("tab", "all", "Restrict -list to: all, premium, favourites")
	searchFlag   = flag.String("search", "", "Filter -list by country or location name")
	selectServer = flag.String("select", "", "Select a server by name or id")
	fastestFlag  = flag.Bool("fastest", false, "Select the lowest-latency server")
	randomFlag   = flag.Bool("random", false, "Select a random server")
	favouriteFlg = flag.String("favourite", "", "Toggle a server as favourite")

	// Connection flags
	connectFlag    = flag.Bool("connect", false, "Connect to the selected server")
	disconnectFlag = flag.Bool("disconnect", false, "Disconnect the active tunnel")
	showStatus     = flag.Bool("status", false, "Show current connection status")
)

func main() {
	flag.Parse()

	if *showHelp {
		cli.PrintHelp()
		os.Exit(0)
	}

	if *showVersion {
		fmt.Printf("%s v%s\n", common.AppName, appVersion)
		if buildTime != "unknown" {
			fmt.Printf("  Build:  %s\n", buildTime)
			fmt.Printf("  Commit: %s\n", commitSHA)
		}
		os.Exit(0)
	}

	logLevel := common.LevelInfo
	if *verbose {
		logLevel = common.LevelDebug
	}

	if err := common.InitLogger(common.LogConfig{
		Level:       logLevel,
		EnableFile:  true,
		MaxFileSize: 5 * 1024 * 1024, // 5MB
		MaxBackups:  5,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}
	defer common.CloseLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandler(cancel)

	if !checkStrongSwanInstalled() {
		common.LogError("strongSwan (charon-cmd) is not installed on the system")
		fmt.Fprintln(os.Stderr, "Error: strongSwan (charon-cmd) is not installed on the system.")
		os.Exit(1)
	}

	app, err := assemble()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer app.close()

	var cliErr error

	switch {
	case *loginFlag != "":
		name, token, ok := strings.Cut(*loginFlag, ":")
		if !ok {
			cliErr = fmt.Errorf("-login expects NAME:TOKEN")
		} else {
			cliErr = app.cli.Login(name, token, *premiumFlag)
		}
	case *logoutFlag:
		cliErr = app.cli.Logout()
	case *listServers:
		tab, err := parseTab(*tabFlag)
		if err != nil {
			cliErr = err
			break
		}
		cliErr = app.cli.ListServers(ctx, tab, *searchFlag)
	case *fastestFlag:
		cliErr = app.cli.Fastest(ctx)
		if cliErr == nil && *connectFlag {
			cliErr = app.cli.Connect(ctx, "")
		}
	case *randomFlag:
		cliErr = app.cli.Random(ctx)
		if cliErr == nil && *connectFlag {
			cliErr = app.cli.Connect(ctx, "")
		}
	case *favouriteFlg != "":
		cliErr = app.cli.Favourite(ctx, *favouriteFlg)
	case *selectServer != "":
		cliErr = app.cli.Select(ctx, *selectServer)
		if cliErr == nil && *connectFlag {
			cliErr = app.cli.Connect(ctx, "")
		}
	case *connectFlag:
		cliErr = app.cli.Connect(ctx, "")
	case *disconnectFlag:
		cliErr = app.cli.Disconnect(ctx)
	case *showStatus:
		cliErr = app.cli.Status()
	default:
		runForeground(ctx, app)
	}

	if cliErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", cliErr)
		os.Exit(1)
	}
}

// application bundles the assembled client components.
type application struct {
	cfg     *config.Config
	state   *store.Store
	manager *vpn.Manager
	prober  *vpn.Prober
	cli     *cli.CLI
}

func (a *application) close() {
	a.prober.Stop()
	a.manager.Close()
	if err := a.state.Close(); err != nil {
		common.LogWarn("Failed to close state store: %v", err)
	}
}

// assemble wires configuration, persistence, the API client, the
// tunnel backend, and the connection core together.
func assemble() (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	state, err := store.OpenDefault()
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	secrets := keyring.New()
	client := api.NewClient(cfg.APIBaseURL)
	backend := vpn.NewIPSecBackend()

	manager := vpn.NewManager(backend, client, secrets, state, state, vpn.ManagerConfig{
		AutoConnect:  cfg.AutoConnect,
		KillSwitch:   cfg.KillSwitch,
		TunnelSecret: cfg.TunnelSecret,
	})

	catalog, err := vpn.NewCatalog(state, state)
	if err != nil {
		manager.Close()
		state.Close()
		return nil, fmt.Errorf("failed to initialize catalog: %w", err)
	}

	probeCfg := vpn.DefaultProbeConfig()
	probeCfg.MaxConcurrent = cfg.ProbeMaxConcurrent
	prober := vpn.NewProber(probeCfg, catalog.Endpoints)

	return &application{
		cfg:     cfg,
		state:   state,
		manager: manager,
		prober:  prober,
		cli:     cli.New(manager, catalog, prober, client, state),
	}, nil
}

// runForeground keeps the client resident: the launch policy runs,
// state changes are printed, and the process stays up until a signal
// arrives.
func runForeground(ctx context.Context, app *application) {
	common.LogInfo("Starting %s v%s", common.AppName, appVersion)

	app.manager.SetOnStateChange(func(state vpn.ConnectionState) {
		fmt.Printf("Connection state: %s\n", state)
	})
	app.manager.SetOnError(func(err error, message string) {
		fmt.Fprintf(os.Stderr, "Connection error: %s\n", message)
	})

	app.manager.StartupCheck()

	fmt.Printf("%s running. Press Ctrl+C to exit.\n", common.AppName)
	<-ctx.Done()

	common.LogInfo("Shutting down")
}

func parseTab(name string) (vpn.Tab, error) {
	switch strings.ToLower(name) {
	case "", "all":
		return vpn.TabAll, nil
	case "premium":
		return vpn.TabPremium, nil
	case "favourites", "favorites", "fav":
		return vpn.TabFavourites, nil
	default:
		return vpn.TabAll, fmt.Errorf("unknown tab: %s", name)
	}
}

// setupSignalHandler configures graceful shutdown on SIGINT/SIGTERM.
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		common.LogInfo("Received signal %v, initiating graceful shutdown...", sig)
		cancel()
	}()
}

// checkStrongSwanInstalled verifies that charon-cmd is available.
func checkStrongSwanInstalled() bool {
	_, err := exec.LookPath("charon-cmd")
	return err == nil
}
