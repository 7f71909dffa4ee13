package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hollowaylabs/agentkeep/pkg/auth"
	"github.com/hollowaylabs/agentkeep/pkg/config"
	"github.com/hollowaylabs/agentkeep/pkg/engine"
	"github.com/hollowaylabs/agentkeep/pkg/logger"
	"github.com/hollowaylabs/agentkeep/pkg/store"
	"github.com/hollowaylabs/agentkeep/pkg/vault"
)

const appName = "agentkeep"

// localCaller identifies commands issued from this machine's CLI. It is
// always an owner, matching how a deployment's operator holds the keys.
const localCaller = "local"

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runtime bundles everything a command needs after setup.
type runtime struct {
	cfg    *config.Config
	store  *store.Store
	engine *engine.Engine
}

func (r *runtime) Close() {
	if r.store != nil {
		r.store.Close()
	}
}

func openRuntime(ctx context.Context, configPath string) (*runtime, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Configure(os.Stderr, cfg.Log.Format, cfg.Log.Level)

	if err := os.MkdirAll(cfg.DataPath("."), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	v := vault.New(&vault.SeedFileProvider{Path: cfg.VaultSeedPath()})
	authz := &auth.Allowlist{
		Owners:  append([]string{localCaller}, cfg.Auth.Owners...),
		Callers: cfg.Auth.Callers,
	}
	eng, err := engine.New(ctx, st, v, authz, engine.Options{})
	if err != nil {
		st.Close()
		return nil, err
	}
	return &runtime{cfg: cfg, store: st, engine: eng}, nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "agentkeep.json"
	}
	return filepath.Join(home, ".agentkeep", "config.json")
}

func printVersion() {
	fmt.Printf("%s %s (%s)\n", appName, version, commit)
}
