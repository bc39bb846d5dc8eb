package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/transferbook/txprovider/internal/archive"
	"github.com/transferbook/txprovider/internal/eth"
	"github.com/transferbook/txprovider/internal/events"
	"github.com/transferbook/txprovider/internal/kvstore"
	kvpg "github.com/transferbook/txprovider/internal/kvstore/postgres"
	"github.com/transferbook/txprovider/internal/kvstore/redisstore"
	"github.com/transferbook/txprovider/internal/metrics"
	"github.com/transferbook/txprovider/internal/provider"
	"github.com/transferbook/txprovider/internal/provider/httpapi"
	"github.com/transferbook/txprovider/internal/queue"
	"github.com/transferbook/txprovider/internal/secrets"
	"github.com/transferbook/txprovider/internal/transfers"
	"github.com/transferbook/txprovider/internal/wallet"
)

const (
	walletRPC   = "rpc"
	walletKeyed = "keyed"
	walletNone  = "none"

	storePostgres = "postgres"
	storeRedis    = "redis"
)

type config struct {
	listenAddr string
	authEnv    string

	rpcURL          string
	contractAddress common.Address
	receiptPoll     time.Duration

	walletMode       string
	keysSecretDriver string
	keysSecret       string
	approve          string
	authorized       bool
	minTipWei        int64
	gasMultiplier    float64

	storeDriver      string
	storePath        string
	postgresDSN      string
	redisAddr        string
	redisPasswordEnv string
	redisDB          int
	redisPrefix      string

	eventsDriver  string
	eventsBrokers []string
	eventsTopic   string

	archiveDriver string
	archiveBucket string
	archivePrefix string

	alertHistory int
	sendTimeout  time.Duration

	readHeaderTimeout time.Duration
	readTimeout       time.Duration
	writeTimeout      time.Duration
	idleTimeout       time.Duration
}

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("txprovider", "err", err)
		os.Exit(1)
	}
}

func parseConfig(args []string, output io.Writer) (config, error) {
	fs := flag.NewFlagSet("txprovider", flag.ContinueOnError)
	fs.SetOutput(output)

	var (
		cfg          config
		contractHex  string
		brokers      string
		sendTimeout  time.Duration
		eventsDriver string
	)
	fs.StringVar(&cfg.listenAddr, "listen", "127.0.0.1:8090", "HTTP listen address")
	fs.StringVar(&cfg.authEnv, "auth-env", "", "env var holding the bearer token for /v1 (optional)")

	fs.StringVar(&cfg.rpcURL, "rpc-url", "", "EVM JSON-RPC URL (required)")
	fs.StringVar(&contractHex, "contract-address", "", "Transactions contract address (required)")
	fs.DurationVar(&cfg.receiptPoll, "receipt-poll-interval", eth.DefaultReceiptPollInterval, "receipt polling interval")

	fs.StringVar(&cfg.walletMode, "wallet", walletRPC, "wallet backend (rpc|keyed|none)")
	fs.StringVar(&cfg.keysSecretDriver, "keys-secret-driver", secrets.DriverEnv, "where keyed wallet keys live (env|file|aws)")
	fs.StringVar(&cfg.keysSecret, "keys-secret", "TXPROVIDER_WALLET_KEYS", "env var, file path or secret id holding comma-separated private keys")
	fs.StringVar(&cfg.approve, "approve", "auto", "keyed wallet approval (auto|prompt)")
	fs.BoolVar(&cfg.authorized, "authorized", false, "keyed wallet exposes its accounts before the first connect")
	fs.Int64Var(&cfg.minTipWei, "min-tip-wei", 0, "minimum priority fee for keyed wallet transactions")
	fs.Float64Var(&cfg.gasMultiplier, "gas-limit-multiplier", 1.2, "gas estimate multiplier for keyed wallet contract calls")

	fs.StringVar(&cfg.storeDriver, "store", kvstore.DriverMemory, "transaction count store (memory|file|postgres|redis)")
	fs.StringVar(&cfg.storePath, "store-path", "txprovider-state.json", "JSON file for --store=file")
	fs.StringVar(&cfg.postgresDSN, "postgres-dsn", "", "Postgres DSN for --store=postgres")
	fs.StringVar(&cfg.redisAddr, "redis-addr", "127.0.0.1:6379", "Redis address for --store=redis")
	fs.StringVar(&cfg.redisPasswordEnv, "redis-password-env", "", "env var holding the Redis password")
	fs.IntVar(&cfg.redisDB, "redis-db", 0, "Redis database")
	fs.StringVar(&cfg.redisPrefix, "redis-prefix", "txprovider", "Redis key prefix")

	fs.StringVar(&eventsDriver, "events-driver", "", "transfer event publisher (kafka|stdio); empty disables")
	fs.StringVar(&brokers, "events-brokers", "", "Kafka brokers (comma-separated)")
	fs.StringVar(&cfg.eventsTopic, "events-topic", events.DefaultTopic, "transfer event topic")

	fs.StringVar(&cfg.archiveDriver, "archive-driver", "", "submission archive (memory|s3); empty disables")
	fs.StringVar(&cfg.archiveBucket, "archive-bucket", "", "S3 bucket for --archive-driver=s3")
	fs.StringVar(&cfg.archivePrefix, "archive-prefix", "", "object key prefix for the archive")

	fs.IntVar(&cfg.alertHistory, "alert-history", 50, "alerts kept for GET /v1/alerts")
	fs.DurationVar(&sendTimeout, "send-timeout", 5*time.Minute, "upper bound for POST /v1/send including confirmation")

	fs.DurationVar(&cfg.readHeaderTimeout, "read-header-timeout", 5*time.Second, "http.Server ReadHeaderTimeout")
	fs.DurationVar(&cfg.readTimeout, "read-timeout", 10*time.Second, "http.Server ReadTimeout")
	fs.DurationVar(&cfg.writeTimeout, "write-timeout", 0, "http.Server WriteTimeout (default: send-timeout + 30s)")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", 60*time.Second, "http.Server IdleTimeout")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(cfg.rpcURL) == "" {
		return config{}, errors.New("--rpc-url is required")
	}
	if !common.IsHexAddress(strings.TrimSpace(contractHex)) {
		return config{}, errors.New("--contract-address must be a valid hex address")
	}
	cfg.contractAddress = common.HexToAddress(strings.TrimSpace(contractHex))
	if (cfg.contractAddress == common.Address{}) {
		return config{}, errors.New("--contract-address must be non-zero")
	}

	cfg.walletMode = strings.ToLower(strings.TrimSpace(cfg.walletMode))
	switch cfg.walletMode {
	case walletRPC, walletNone:
	case walletKeyed:
		if strings.TrimSpace(cfg.keysSecret) == "" {
			return config{}, errors.New("--keys-secret is required for --wallet=keyed")
		}
		if cfg.approve != "auto" && cfg.approve != "prompt" {
			return config{}, fmt.Errorf("unsupported --approve %q", cfg.approve)
		}
		if cfg.minTipWei < 0 {
			return config{}, errors.New("--min-tip-wei must be >= 0")
		}
		if cfg.gasMultiplier < 1 {
			return config{}, errors.New("--gas-limit-multiplier must be >= 1")
		}
	default:
		return config{}, fmt.Errorf("unsupported --wallet %q", cfg.walletMode)
	}

	cfg.storeDriver = strings.ToLower(strings.TrimSpace(cfg.storeDriver))
	switch cfg.storeDriver {
	case kvstore.DriverMemory:
	case kvstore.DriverFile:
		if strings.TrimSpace(cfg.storePath) == "" {
			return config{}, errors.New("--store-path is required for --store=file")
		}
	case storePostgres:
		if strings.TrimSpace(cfg.postgresDSN) == "" {
			return config{}, errors.New("--postgres-dsn is required for --store=postgres")
		}
	case storeRedis:
		if strings.TrimSpace(cfg.redisAddr) == "" {
			return config{}, errors.New("--redis-addr is required for --store=redis")
		}
	default:
		return config{}, fmt.Errorf("unsupported --store %q", cfg.storeDriver)
	}

	cfg.eventsDriver = strings.ToLower(strings.TrimSpace(eventsDriver))
	cfg.eventsBrokers = queue.SplitCommaList(brokers)
	switch cfg.eventsDriver {
	case "", queue.DriverStdio:
	case queue.DriverKafka:
		if len(cfg.eventsBrokers) == 0 {
			return config{}, errors.New("--events-brokers is required for --events-driver=kafka")
		}
	default:
		return config{}, fmt.Errorf("unsupported --events-driver %q", eventsDriver)
	}

	cfg.archiveDriver = strings.ToLower(strings.TrimSpace(cfg.archiveDriver))
	switch cfg.archiveDriver {
	case "", archive.DriverMemory:
	case archive.DriverS3:
		if strings.TrimSpace(cfg.archiveBucket) == "" {
			return config{}, errors.New("--archive-bucket is required for --archive-driver=s3")
		}
	default:
		return config{}, fmt.Errorf("unsupported --archive-driver %q", cfg.archiveDriver)
	}

	if cfg.alertHistory <= 0 {
		return config{}, errors.New("--alert-history must be > 0")
	}
	if sendTimeout < time.Second {
		return config{}, errors.New("--send-timeout must be >= 1s")
	}
	cfg.sendTimeout = sendTimeout
	if cfg.writeTimeout == 0 {
		cfg.writeTimeout = sendTimeout + 30*time.Second
	}
	if cfg.writeTimeout <= sendTimeout {
		return config{}, errors.New("--write-timeout must exceed --send-timeout")
	}
	if cfg.readHeaderTimeout <= 0 || cfg.readTimeout <= 0 || cfg.idleTimeout <= 0 || cfg.receiptPoll <= 0 {
		return config{}, errors.New("timeouts must be > 0")
	}
	if strings.TrimSpace(cfg.listenAddr) == "" {
		return config{}, errors.New("--listen must be non-empty")
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config, log *slog.Logger) error {
	authToken := ""
	if cfg.authEnv != "" {
		authToken = strings.TrimSpace(os.Getenv(cfg.authEnv))
		if authToken == "" {
			return fmt.Errorf("%s is empty", cfg.authEnv)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	rc, err := rpc.DialContext(ctx, cfg.rpcURL)
	if err != nil {
		return fmt.Errorf("dial rpc: %w", err)
	}
	defer rc.Close()

	w, err := buildWallet(ctx, cfg, rc, log)
	if err != nil {
		return err
	}
	// The contract always needs a chain to read from; without an injected wallet it goes
	// through the node directly.
	contractWallet := w
	if contractWallet == nil {
		contractWallet, err = wallet.NewRPCWallet(rc, log)
		if err != nil {
			return err
		}
	}
	contract, err := transfers.NewContract(wallet.Observed(contractWallet, m.ObserveWalletRequest), transfers.Config{
		Address:             cfg.contractAddress,
		ReceiptPollInterval: cfg.receiptPoll,
	})
	if err != nil {
		return err
	}

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	sinks, closeSinks, err := buildSinks(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSinks()

	alerts := provider.NewAlertBuffer(cfg.alertHistory, time.Now)
	p, err := provider.New(ctx, provider.Config{
		Wallet:   wallet.Observed(w, m.ObserveWalletRequest),
		Contract: provider.BindContract(contract),
		Store:    store,
		Alerter:  provider.MultiAlerter{provider.LogAlerter{Log: log}, alerts},
		Sinks:    sinks,
		Metrics:  m,
		Log:      log,
	})
	if err != nil {
		return err
	}
	unsubscribe := p.Subscribe(func(s provider.Snapshot) {
		log.Debug("state", "account", s.CurrentAccount, "loading", s.Loading, "phase", s.Phase.String(), "outcome", s.LastOutcome.String())
	})
	defer unsubscribe()
	p.Mount(ctx)

	handler := httpapi.NewHandler(p, httpapi.Config{
		AuthToken:      authToken,
		MaxWaitSeconds: int(cfg.sendTimeout / time.Second),
		Alerts:         alerts,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Log:            log,
	})

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.readHeaderTimeout,
		ReadTimeout:       cfg.readTimeout,
		WriteTimeout:      cfg.writeTimeout,
		IdleTimeout:       cfg.idleTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("txprovider listening", "addr", cfg.listenAddr, "wallet", cfg.walletMode, "contract", cfg.contractAddress, "store", cfg.storeDriver)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown", "reason", ctx.Err())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildWallet(ctx context.Context, cfg config, rc *rpc.Client, log *slog.Logger) (wallet.Wallet, error) {
	switch cfg.walletMode {
	case walletNone:
		return nil, nil
	case walletRPC:
		return wallet.NewRPCWallet(rc, log)
	}

	sp, err := secrets.New(ctx, cfg.keysSecretDriver)
	if err != nil {
		return nil, err
	}
	raw, err := sp.Get(ctx, cfg.keysSecret)
	if err != nil {
		return nil, fmt.Errorf("load wallet keys: %w", err)
	}
	keys, err := eth.ParsePrivateKeysHexList(raw)
	if err != nil {
		return nil, err
	}

	backend := ethclient.NewClient(rc)
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}

	var approver wallet.Approver = wallet.AutoApprove{}
	if cfg.approve == "prompt" {
		approver = wallet.NewPromptApprover(os.Stdin, os.Stderr)
	}
	kw, err := wallet.NewKeyedWallet(backend, rc, eth.LocalSigners(keys), wallet.KeyedConfig{
		ChainID:            chainID,
		MinTipCap:          big.NewInt(cfg.minTipWei),
		GasLimitMultiplier: cfg.gasMultiplier,
		Approver:           approver,
		Authorized:         cfg.authorized,
		Log:                log,
	})
	if err != nil {
		return nil, err
	}
	return kw, nil
}

func buildStore(ctx context.Context, cfg config) (kvstore.Store, func(), error) {
	noop := func() {}
	switch cfg.storeDriver {
	case storePostgres:
		pool, err := pgxpool.New(ctx, cfg.postgresDSN)
		if err != nil {
			return nil, noop, fmt.Errorf("init pgx pool: %w", err)
		}
		s, err := kvpg.New(pool)
		if err != nil {
			pool.Close()
			return nil, noop, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, noop, fmt.Errorf("ensure kv schema: %w", err)
		}
		return s, pool.Close, nil
	case storeRedis:
		password := ""
		if cfg.redisPasswordEnv != "" {
			password = os.Getenv(cfg.redisPasswordEnv)
		}
		client, err := redisstore.Dial(ctx, cfg.redisAddr, password, cfg.redisDB)
		if err != nil {
			return nil, noop, err
		}
		s, err := redisstore.New(client, redisstore.Config{Prefix: cfg.redisPrefix})
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		return s, func() { _ = client.Close() }, nil
	default:
		s, err := kvstore.New(kvstore.Config{Driver: cfg.storeDriver, Path: cfg.storePath})
		return s, noop, err
	}
}

func buildSinks(ctx context.Context, cfg config) ([]provider.Sink, func(), error) {
	var (
		sinks   []provider.Sink
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.eventsDriver != "" {
		producer, err := queue.NewProducer(queue.ProducerConfig{
			Driver:  cfg.eventsDriver,
			Brokers: cfg.eventsBrokers,
		})
		if err != nil {
			return nil, closeAll, fmt.Errorf("init queue producer: %w", err)
		}
		closers = append(closers, func() { _ = producer.Close() })
		pub, err := events.NewPublisher(producer, cfg.eventsTopic)
		if err != nil {
			return nil, closeAll, err
		}
		sinks = append(sinks, pub)
	}

	if cfg.archiveDriver != "" {
		acfg := archive.Config{Driver: cfg.archiveDriver, Prefix: cfg.archivePrefix, Bucket: cfg.archiveBucket}
		if cfg.archiveDriver == archive.DriverS3 {
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, closeAll, fmt.Errorf("load aws config: %w", err)
			}
			acfg.S3Client = s3.NewFromConfig(awsCfg)
		}
		store, err := archive.New(acfg)
		if err != nil {
			return nil, closeAll, err
		}
		a, err := archive.NewArchiver(store)
		if err != nil {
			return nil, closeAll, err
		}
		sinks = append(sinks, a)
	}
	return sinks, closeAll, nil
}
