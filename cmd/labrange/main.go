package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bagleyctf/labrange/pkg/admission"
	"github.com/bagleyctf/labrange/pkg/catalog"
	"github.com/bagleyctf/labrange/pkg/config"
	"github.com/bagleyctf/labrange/pkg/events"
	"github.com/bagleyctf/labrange/pkg/log"
	"github.com/bagleyctf/labrange/pkg/manager"
	"github.com/bagleyctf/labrange/pkg/runtime"
	"github.com/bagleyctf/labrange/pkg/storage"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath string
	userName   string
	userID     int64
	userRoles  []string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "labrange",
	Short: "Labrange - on-demand CTF lab sandbox orchestrator",
	Long: `Labrange provisions short-lived, isolated CTF lab containers on a
single Docker host. Every mutating request passes an admission pipeline
(permission check, input sanitizer, rate limiter) before the lifecycle
controller touches the registry or the engine. Labs are quota-bounded
and expire automatically.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Labrange version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&userName, "user", "", "Requesting user name")
	rootCmd.PersistentFlags().Int64Var(&userID, "user-id", 0, "Requesting user numeric id")
	rootCmd.PersistentFlags().StringSliceVar(&userRoles, "roles", nil, "Requesting user roles")

	rootCmd.AddCommand(labCmd)
	rootCmd.AddCommand(adminCmd)
	rootCmd.AddCommand(accessCmd)
	rootCmd.AddCommand(securityCmd)
	rootCmd.AddCommand(serveCmd)
}

// app bundles the wired components behind every command
type app struct {
	cfg    *config.Config
	store  storage.Store
	driver runtime.Driver
	cat    *catalog.Catalog
	gate   *admission.Gate
	broker *events.Broker
	mgr    *manager.Manager
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if err := log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: false,
		AuditPath:  cfg.AuditLog,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		store.Close()
		return nil, err
	}

	driver, err := runtime.NewDockerDriver()
	if err != nil {
		store.Close()
		return nil, err
	}

	broker := events.NewBroker()
	broker.Start()

	return &app{
		cfg:    cfg,
		store:  store,
		driver: driver,
		cat:    cat,
		gate:   admission.NewGate(cfg, store, broker),
		broker: broker,
		mgr:    manager.NewManager(cfg, cat, store, driver, broker),
	}, nil
}

func (a *app) Close() {
	a.broker.Stop()
	if err := a.driver.Close(); err != nil {
		log.Errorf("failed to close runtime driver", err)
	}
	if err := a.store.Close(); err != nil {
		log.Errorf("failed to close store", err)
	}
}

func (a *app) identity() admission.Identity {
	return admission.Identity{
		Name:      userName,
		NumericID: userID,
		Roles:     userRoles,
	}
}

// printJSON renders any command result to stdout
func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
