package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gagliardetto/solana-go"

	"github.com/Fantasim/solmigrate/internal/api"
	"github.com/Fantasim/solmigrate/internal/config"
	"github.com/Fantasim/solmigrate/internal/consolidate"
	"github.com/Fantasim/solmigrate/internal/discovery"
	"github.com/Fantasim/solmigrate/internal/fees"
	"github.com/Fantasim/solmigrate/internal/ledger"
	"github.com/Fantasim/solmigrate/internal/logging"
	"github.com/Fantasim/solmigrate/internal/models"
	"github.com/Fantasim/solmigrate/internal/planner"
	"github.com/Fantasim/solmigrate/internal/price"
	"github.com/Fantasim/solmigrate/internal/tx"
	"github.com/Fantasim/solmigrate/internal/wallet"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe()
	case "run":
		err = runOnce(os.Args[2:])
	case "holdings":
		err = runHoldings(os.Args[2:])
	case "version":
		fmt.Printf("solmigrate %s\n", version)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		slog.Error(os.Args[1]+" failed", "error", err, "code", config.ErrorCode(err))
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: solmigrate <command>

Commands:
  serve                          Start the HTTP API
  run --dest <address> [flags]   Consolidate the signer's assets to address
  holdings --owner <address>     Print the holdings of an account
  version                        Print version information

Run "solmigrate run -h" for the class flags.
`)
}

// services are the long-lived collaborators shared by every command.
type services struct {
	cfg       *config.Config
	rpc       *ledger.RPCClient
	das       *ledger.DASClient
	discovery *discovery.Service
}

func newServices(cfg *config.Config) *services {
	rpc := ledger.NewRPCClient(cfg.RPCURL, cfg.RPCRateLimit)
	das := ledger.NewDASClient(&http.Client{Timeout: config.APITimeout}, cfg.DASEndpoint(), config.RateLimitDAS)

	slog.Info("ledger clients initialized",
		"rpcURL", cfg.RPCURL,
		"dasURL", cfg.DASEndpoint(),
		"rpcRateLimit", cfg.RPCRateLimit,
	)

	return &services{
		cfg:       cfg,
		rpc:       rpc,
		das:       das,
		discovery: discovery.NewService(rpc, das),
	}
}

// runner wires the signer, sequencer and runner. pub may be nil.
func (s *services) runner(pub consolidate.Publisher) (*consolidate.Runner, solana.PublicKey, error) {
	key, err := wallet.LoadSigningKey(s.cfg)
	if err != nil {
		return nil, solana.PublicKey{}, fmt.Errorf("load signing key: %w", err)
	}

	signer := tx.NewKeypairSigner(key, s.rpc)
	seq := consolidate.NewSequencer(signer, s.rpc, tx.NewCompressedResolver(s.das, s.rpc), consolidate.SequencerOptions{
		BroadcastRetries: s.cfg.BroadcastRetries,
		RetryDelay:       config.BroadcastRetryDelay,
		CNFTPacing:       s.cfg.CNFTPacing,
	})

	runner := consolidate.NewRunner(s.discovery, fees.NewResolver(s.cfg.FeeFeedURL), signer, seq, pub, consolidate.RunnerOptions{
		Plan: planner.Options{
			CoinReserveLamports: s.cfg.CoinReserveLamports,
			NFTBatchSize:        s.cfg.NFTBatchSize,
		},
		SettleDelay: s.cfg.SettleDelay,
	})

	return runner, signer.PublicKey(), nil
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCloser, err := logging.Setup(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logCloser.Close()

	slog.Info("starting solmigrate",
		"version", version,
		"network", cfg.Network,
		"port", cfg.Port,
		"logLevel", cfg.LogLevel,
	)

	hub := tx.NewEventHub()
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go hub.Run(hubCtx)

	svc := newServices(cfg)
	runner, signer, err := svc.runner(hub)
	if err != nil {
		return err
	}

	slog.Info("consolidation runner initialized", "signer", signer)

	deps := api.Deps{
		Config:   cfg,
		Signer:   signer.String(),
		Holdings: svc.discovery,
		Runner:   runner,
		Events:   hub,
	}
	if cfg.PriceURL != "" {
		deps.Prices = price.NewService(cfg.PriceURL)
	}

	api.Version = version
	router := api.NewRouter(hubCtx, deps)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	srv := &http.Server{
		Addr:           addr,
		Handler:        router,
		ReadTimeout:    config.ServerReadTimeout,
		WriteTimeout:   config.ServerWriteTimeout,
		IdleTimeout:    config.ServerIdleTimeout,
		MaxHeaderBytes: config.ServerMaxHeaderBytes,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("initiating graceful shutdown", "timeout", config.ShutdownTimeout)

	// Cancels background runs and drains SSE clients.
	hubCancel()

	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// runOnce executes one consolidation and prints the summary as JSON.
func runOnce(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	dest := fs.String("dest", "", "Destination address (required)")
	skipToken := fs.Bool("skip-token", false, "Do not move SPL Token balances")
	skipToken2022 := fs.Bool("skip-token2022", false, "Do not move Token-2022 balances")
	skipNFT := fs.Bool("skip-nft", false, "Do not move NFTs")
	skipCNFT := fs.Bool("skip-cnft", false, "Do not move compressed NFTs")
	skipClose := fs.Bool("skip-close-empty", false, "Do not close empty token accounts")
	skipCoin := fs.Bool("skip-coin", false, "Do not move SOL")
	fs.Parse(args)

	if *dest == "" {
		return fmt.Errorf("%w: --dest is required", config.ErrInvalidDestination)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCloser, err := logging.SetupCLI(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logCloser.Close()

	runner, signer, err := newServices(cfg).runner(nil)
	if err != nil {
		return err
	}

	toggles := models.ClassToggles{
		Token:      !*skipToken,
		Token2022:  !*skipToken2022,
		NFT:        !*skipNFT,
		CNFT:       !*skipCNFT,
		CloseEmpty: !*skipClose,
		Coin:       !*skipCoin,
	}

	slog.Info("starting consolidation",
		"signer", signer,
		"destination", *dest,
		"toggles", toggles,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := runner.RunConsolidation(ctx, *dest, toggles)
	if summary != nil {
		if perr := printJSON(summary); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}

	for _, c := range summary.Classes {
		if c.Status == models.StatusFailed {
			return fmt.Errorf("%w: class %s had %d failed batches", config.ErrBroadcastFailure, c.Class, c.Failed)
		}
	}
	return nil
}

func runHoldings(args []string) error {
	fs := flag.NewFlagSet("holdings", flag.ExitOnError)
	ownerFlag := fs.String("owner", "", "Account address (default: the configured signer)")
	fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCloser, err := logging.SetupCLI(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logCloser.Close()

	owner, err := resolveOwner(cfg, *ownerFlag)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	holdings, err := newServices(cfg).discovery.Discover(ctx, owner)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrDiscoveryFailure, err)
	}
	return printJSON(holdings)
}

func resolveOwner(cfg *config.Config, raw string) (solana.PublicKey, error) {
	if raw != "" {
		owner, err := solana.PublicKeyFromBase58(raw)
		if err != nil {
			return solana.PublicKey{}, fmt.Errorf("invalid owner %q: %w", raw, err)
		}
		return owner, nil
	}

	key, err := wallet.LoadSigningKey(cfg)
	if errors.Is(err, config.ErrNoSigner) {
		return solana.PublicKey{}, fmt.Errorf("--owner is required when no signer is configured: %w", err)
	}
	if err != nil {
		return solana.PublicKey{}, err
	}
	return key.PublicKey(), nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
