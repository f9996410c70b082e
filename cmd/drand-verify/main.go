// Command drand-verify fetches drand beacons and prints them only after they
// verify against the chain's public key.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/zmlAEQ/drand-verify/internal/beacon"
	"github.com/zmlAEQ/drand-verify/internal/client"
	"github.com/zmlAEQ/drand-verify/internal/config"
	"github.com/zmlAEQ/drand-verify/internal/monitoring"
	"github.com/zmlAEQ/drand-verify/internal/relay"
	"github.com/zmlAEQ/drand-verify/internal/store"
	"github.com/zmlAEQ/drand-verify/pkg/bus"
	"github.com/zmlAEQ/drand-verify/pkg/lifecycle"
	"github.com/zmlAEQ/drand-verify/pkg/logger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout)
	cancel()
	logger.Sync()
	os.Exit(code)
}

type output struct {
	Round      uint64 `json:"round"`
	Randomness string `json:"randomness,omitempty"`
	Signature  string `json:"signature,omitempty"`
	Valid      bool   `json:"valid"`
	Kind       string `json:"kind,omitempty"`
	Error      string `json:"error,omitempty"`
}

func run(ctx context.Context, args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("drand-verify", flag.ContinueOnError)
	var (
		cfgPath  string
		round    uint64
		from, to uint64
		serveAt  string
	)
	cfg := config.Default()
	fs.StringVar(&cfgPath, "config", "", "Optional JSON config file")
	fs.StringVar(&cfg.URL, "url", cfg.URL, "drand HTTP endpoint (env "+config.EnvURL+")")
	fs.StringVar(&cfg.ChainHash, "chain-hash", "", "Hex chain hash to pin")
	fs.StringVar(&cfg.StateDir, "state-dir", "", "Directory for pinned chain info and verified beacons")
	fs.StringVar(&cfg.MonitoringAddr, "monitoring", "", "Monitoring listen address (serve mode)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug|info|warn|error")
	timeout := fs.Duration("timeout", time.Duration(cfg.Timeout), "Per-request HTTP timeout")
	fs.Uint64Var(&cfg.Retries, "retries", cfg.Retries, "Retries for transient HTTP failures")
	fs.Uint64Var(&round, "round", 0, "Verify a single round")
	fs.Uint64Var(&from, "from", 0, "First round of a range")
	fs.Uint64Var(&to, "to", 0, "Last round of a range")
	fs.StringVar(&serveAt, "serve", "", "Serve a verifying relay of the drand HTTP API on this address")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg.Timeout = config.Duration(*timeout)

	base := config.Default()
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			logger.Error("config: " + err.Error())
			return 2
		}
		base = loaded
	} else {
		base.ApplyEnv()
	}
	// explicit flags win over the file and the environment
	fs.Visit(func(f *flag.Flag) { overlay(&base, f.Name, cfg) })
	cfg = base
	if err := cfg.Validate(); err != nil {
		logger.Error("config: " + err.Error())
		return 2
	}
	if cfg.LogLevel != "" {
		_ = logger.SetLevel(cfg.LogLevel)
	}

	c, err := open(ctx, cfg)
	if err != nil {
		logger.ErrorJ("startup", map[string]any{"result": "error", "err": err.Error()})
		return 1
	}
	enc := json.NewEncoder(stdout)

	switch {
	case serveAt != "":
		return serve(ctx, c, cfg, serveAt)
	case from != 0 || to != 0:
		bs, verdicts, err := c.Range(ctx, from, to)
		if err != nil {
			logger.ErrorJ("range", map[string]any{"from": from, "to": to, "err": err.Error()})
			return 1
		}
		code := 0
		for i, vd := range verdicts {
			_ = enc.Encode(render(bs[i], vd.Err))
			if !vd.Valid() {
				code = 1
			}
		}
		return code
	case round != 0:
		b, err := c.Get(ctx, round)
		return emit(enc, round, b, err)
	default:
		b, err := c.Latest(ctx)
		return emit(enc, b.Round, b, err)
	}
}

func overlay(dst *config.Config, name string, src config.Config) {
	switch name {
	case "url":
		dst.URL = src.URL
	case "chain-hash":
		dst.ChainHash = src.ChainHash
	case "state-dir":
		dst.StateDir = src.StateDir
	case "monitoring":
		dst.MonitoringAddr = src.MonitoringAddr
	case "log-level":
		dst.LogLevel = src.LogLevel
	case "timeout":
		dst.Timeout = src.Timeout
	case "retries":
		dst.Retries = src.Retries
	}
}

// open builds the client, reusing pinned chain info from the state dir when
// present and pinning freshly fetched info otherwise.
func open(ctx context.Context, cfg config.Config) (*client.Client, error) {
	tr, err := client.NewHTTPTransport(cfg.URL,
		client.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Timeout)}),
		client.WithRateLimit(cfg.RateLimit, int(cfg.RateLimit)+1),
		client.WithRetries(cfg.Retries, 0),
	)
	if err != nil {
		return nil, err
	}
	hash, err := cfg.ChainHashBytes()
	if err != nil {
		return nil, err
	}
	opts := []client.Option{
		client.WithChainHash(hash),
		client.WithCacheSize(cfg.CacheSize),
		client.WithParallelism(cfg.Parallelism),
	}
	if cfg.StateDir == "" {
		return client.New(ctx, tr, opts...)
	}

	infos := store.NewChainInfoStore(filepath.Join(cfg.StateDir, "chain.dat"))
	pinned, err := infos.Load(ctx)
	havePinned := err == nil
	if havePinned {
		opts = append(opts, client.WithChainInfo(pinned))
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	beacons, err := store.OpenBeaconLog(filepath.Join(cfg.StateDir, "beacons.log"))
	if err != nil {
		return nil, err
	}
	opts = append(opts, client.WithStore(beacons))
	c, err := client.New(ctx, tr, opts...)
	if err != nil {
		return nil, err
	}
	if !havePinned {
		if err := infos.Save(ctx, c.Info()); err != nil {
			return nil, fmt.Errorf("pin chain info: %w", err)
		}
	}
	return c, nil
}

// serve runs the verifying relay (and optional monitoring) until ctx ends.
func serve(ctx context.Context, c *client.Client, cfg config.Config, addr string) int {
	events := bus.New(256)
	m := lifecycle.New()
	if cfg.MonitoringAddr != "" {
		m.Add(monitoring.New(cfg.MonitoringAddr, events))
	}
	m.Add(relay.New(addr, c, events))
	code := 0
	if err := m.StartAll(ctx); err != nil {
		logger.Error(err.Error())
		code = 1
	} else {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.StopAll(stopCtx); err != nil {
			logger.Error(err.Error())
			code = 1
		}
	}
	events.Close()
	return code
}

func emit(enc *json.Encoder, round uint64, b beacon.Beacon, err error) int {
	if err != nil && b.Round == 0 {
		b.Round = round
	}
	_ = enc.Encode(render(b, err))
	if err != nil {
		return 1
	}
	return 0
}

func render(b beacon.Beacon, err error) output {
	out := output{Round: b.Round, Valid: err == nil}
	if err != nil {
		if k := beacon.KindOf(err); k != 0 {
			out.Kind = k.String()
		}
		out.Error = err.Error()
		return out
	}
	out.Randomness = hex.EncodeToString(b.Randomness)
	out.Signature = hex.EncodeToString(b.Signature)
	return out
}
