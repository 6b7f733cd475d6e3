package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scorecast/scorecast/internal/chain"
	"github.com/scorecast/scorecast/internal/cycles"
	cyclespg "github.com/scorecast/scorecast/internal/cycles/postgres"
	"github.com/scorecast/scorecast/internal/feedarchive"
	"github.com/scorecast/scorecast/internal/ingest"
	"github.com/scorecast/scorecast/internal/jobs"
	jobspg "github.com/scorecast/scorecast/internal/jobs/postgres"
	"github.com/scorecast/scorecast/internal/locks"
	lockspg "github.com/scorecast/scorecast/internal/locks/postgres"
	"github.com/scorecast/scorecast/internal/pipeline"
	"github.com/scorecast/scorecast/internal/policy"
	"github.com/scorecast/scorecast/internal/queue"
	"github.com/scorecast/scorecast/internal/results"
	resultspg "github.com/scorecast/scorecast/internal/results/postgres"
	"github.com/scorecast/scorecast/internal/secrets"
	"github.com/scorecast/scorecast/internal/sportsfeed"
)

func main() {
	var (
		postgresDSN = flag.String("postgres-dsn", "", "Postgres DSN (required when --store-driver=postgres)")
		storeDriver = flag.String("store-driver", "postgres", "store driver: postgres|memory")

		feedBaseURL   = flag.String("feed-base-url", "", "sports feed base URL (required)")
		feedKeySecret = flag.String("feed-api-key-secret", "SCORECAST_FEED_API_KEY", "secret name (or env var) holding the feed API key")
		feedTimeout   = flag.Duration("feed-timeout", 10*time.Second, "sports feed HTTP timeout")

		chainRPCURL      = flag.String("chain-rpc-url", "", "EVM RPC URL (required)")
		chainID          = flag.Uint64("chain-id", 0, "EVM chain id (required)")
		contractAddr     = flag.String("contract-address", "", "resolution contract address (required)")
		signingKeySecret = flag.String("signing-key-secret", "SCORECAST_SIGNING_KEY", "secret name (or env var) holding the resolver signing key hex")
		minTipGwei       = flag.Int64("min-tip-gwei", 1, "minimum priority fee in gwei")
		receiptPoll      = flag.Duration("receipt-poll-interval", 2*time.Second, "transaction receipt poll interval")
		receiptTimeout   = flag.Duration("receipt-timeout", 3*time.Minute, "transaction mined-wait timeout")

		secretsDriver = flag.String("secrets-driver", "env", "secrets driver: env|aws (aws falls back through env first)")

		queueDriver  = flag.String("queue-driver", queue.DriverKafka, "queue driver: kafka|stdio")
		queueBrokers = flag.String("queue-brokers", "", "comma-separated queue brokers; empty disables cycle.resolved events")

		archiveDriver = flag.String("archive-driver", "", "feed payload archive driver: s3|memory; empty disables archival")
		archiveBucket = flag.String("archive-bucket", "", "S3 bucket for feed payload archive")
		archivePrefix = flag.String("archive-prefix", "feeds", "key prefix for feed payload archive")

		interval = flag.Duration("interval", 5*time.Minute, "pipeline tick interval")
		runOnce  = flag.Bool("run-once", false, "run one pipeline pass and exit")
		holderID = flag.String("holder-id", "", "scheduler identity for locks and execution ids (default: hostname-pid)")

		timeout      = flag.Duration("pipeline-timeout", policy.DefaultPipelineTimeout, "wall clock for one pipeline run")
		lockTTL      = flag.Duration("lock-ttl", policy.DefaultPipelineLockTTL, "per-stage lock TTL")
		resolveLimit = flag.Int("resolve-limit", 10, "cycles checked for resolution per run")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *feedBaseURL == "" || *chainRPCURL == "" || *chainID == 0 || *contractAddr == "" {
		fmt.Fprintln(os.Stderr, "error: --feed-base-url, --chain-rpc-url, --chain-id, and --contract-address are required")
		os.Exit(2)
	}
	if !common.IsHexAddress(*contractAddr) {
		fmt.Fprintln(os.Stderr, "error: --contract-address must be a valid hex address")
		os.Exit(2)
	}
	if *interval <= 0 || *timeout <= 0 || *lockTTL <= 0 || *resolveLimit <= 0 {
		fmt.Fprintln(os.Stderr, "error: --interval, --pipeline-timeout, --lock-ttl, and --resolve-limit must be > 0")
		os.Exit(2)
	}
	if *lockTTL <= *timeout {
		fmt.Fprintln(os.Stderr, "error: --lock-ttl must exceed --pipeline-timeout")
		os.Exit(2)
	}
	if *minTipGwei < 0 || *receiptPoll <= 0 || *receiptTimeout <= 0 {
		fmt.Fprintln(os.Stderr, "error: fee and receipt settings must be >= 0")
		os.Exit(2)
	}

	holder := strings.TrimSpace(*holderID)
	if holder == "" {
		host, err := os.Hostname()
		if err != nil || strings.TrimSpace(host) == "" {
			host = "scheduler"
		}
		holder = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := initSecrets(ctx, *secretsDriver)
	if err != nil {
		log.Error("init secrets provider", "err", err)
		os.Exit(2)
	}
	feedKey, err := secrets.FeedAPIKey(ctx, provider, *feedKeySecret)
	if err != nil {
		log.Error("load feed api key", "err", err)
		os.Exit(2)
	}
	signingKey, err := secrets.SigningKey(ctx, provider, *signingKeySecret)
	if err != nil {
		log.Error("load signing key", "err", err)
		os.Exit(2)
	}

	var (
		lockStore   locks.Store
		recordStore jobs.Store
		resultStore results.Store
		cycleStore  cycles.Store
	)
	switch strings.ToLower(strings.TrimSpace(*storeDriver)) {
	case "postgres":
		if strings.TrimSpace(*postgresDSN) == "" {
			fmt.Fprintln(os.Stderr, "error: --postgres-dsn is required when --store-driver=postgres")
			os.Exit(2)
		}
		pool, err := pgxpool.New(ctx, *postgresDSN)
		if err != nil {
			log.Error("init pgx pool", "err", err)
			os.Exit(2)
		}
		defer pool.Close()

		lockStore, recordStore, resultStore, cycleStore, err = initPostgresStores(ctx, pool)
		if err != nil {
			log.Error("init postgres stores", "err", err)
			os.Exit(2)
		}
	case "memory":
		lockStore = locks.NewMemoryStore(time.Now)
		recordStore = jobs.NewMemoryStore()
		resultStore = results.NewMemoryStore()
		cycleStore = cycles.NewMemoryStore()
	default:
		fmt.Fprintf(os.Stderr, "error: unsupported --store-driver %q\n", *storeDriver)
		os.Exit(2)
	}

	gateway, err := sportsfeed.New(*feedBaseURL, feedKey, sportsfeed.WithTimeout(*feedTimeout))
	if err != nil {
		log.Error("init sports feed client", "err", err)
		os.Exit(2)
	}

	archiver, err := initArchive(ctx, *archiveDriver, *archiveBucket, *archivePrefix)
	if err != nil {
		log.Error("init feed archive", "err", err)
		os.Exit(2)
	}

	stage, err := ingest.New(ingest.Config{}, resultStore, gateway, archiver, log)
	if err != nil {
		log.Error("init ingest stage", "err", err)
		os.Exit(2)
	}

	backend, err := ethclient.DialContext(ctx, *chainRPCURL)
	if err != nil {
		log.Error("dial chain rpc", "err", err)
		os.Exit(2)
	}
	defer backend.Close()

	submitter, err := chain.NewSubmitter(backend, signingKey, chain.Config{
		ChainID:             new(big.Int).SetUint64(*chainID),
		Contract:            common.HexToAddress(*contractAddr),
		GasLimitMultiplier:  1.2,
		MinTipCap:           new(big.Int).Mul(big.NewInt(*minTipGwei), big.NewInt(params.GWei)),
		ReceiptPollInterval: *receiptPoll,
		ReceiptTimeout:      *receiptTimeout,
	}, log)
	if err != nil {
		log.Error("init chain submitter", "err", err)
		os.Exit(2)
	}

	resolver, err := cycles.NewResolver(cycles.ResolverConfig{Policy: policy.DefaultResolution()},
		cycleStore, resultStore, submitter, log)
	if err != nil {
		log.Error("init cycle resolver", "err", err)
		os.Exit(2)
	}

	coord, err := jobs.NewCoordinator(jobs.Config{HolderID: holder}, lockStore, recordStore, log)
	if err != nil {
		log.Error("init job coordinator", "err", err)
		os.Exit(2)
	}

	var producer queue.Producer
	if strings.TrimSpace(*queueBrokers) != "" || strings.EqualFold(strings.TrimSpace(*queueDriver), queue.DriverStdio) {
		producer, err = queue.NewProducer(queue.ProducerConfig{
			Driver:  *queueDriver,
			Brokers: queue.SplitCommaList(*queueBrokers),
		})
		if err != nil {
			log.Error("init queue producer", "err", err)
			os.Exit(2)
		}
		defer func() { _ = producer.Close() }()
	}

	p, err := pipeline.New(pipeline.Config{
		Timeout:      *timeout,
		LockTTL:      *lockTTL,
		ResolveLimit: *resolveLimit,
	}, coord, stage, resolver, cycleStore, resultStore, producer, log)
	if err != nil {
		log.Error("init pipeline", "err", err)
		os.Exit(2)
	}

	log.Info("scheduler started",
		"holder", holder,
		"storeDriver", strings.ToLower(strings.TrimSpace(*storeDriver)),
		"feed", *feedBaseURL,
		"chainID", *chainID,
		"contract", *contractAddr,
		"interval", interval.String(),
		"runOnce", *runOnce,
	)

	runPass := func() {
		sum, err := p.Run(ctx)
		if err != nil {
			log.Error("pipeline run failed", "err", err)
			return
		}
		for _, sr := range sum.Stages {
			log.Info("stage outcome", "job", sr.Job, "kind", sr.Outcome.Kind.String(),
				"attempts", sr.Outcome.Attempts, "skipReason", sr.Outcome.SkipReason)
		}
	}

	runPass()
	if *runOnce {
		return
	}

	t := time.NewTicker(*interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown", "reason", ctx.Err())
			return
		case <-t.C:
			runPass()
		}
	}
}

func initSecrets(ctx context.Context, driver string) (secrets.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "env":
		return secrets.NewEnv(), nil
	case "aws":
		aws, err := secrets.NewAWS(ctx)
		if err != nil {
			return nil, err
		}
		return secrets.NewChain(secrets.NewEnv(), aws)
	default:
		return nil, fmt.Errorf("unsupported secrets driver %q", driver)
	}
}

func initPostgresStores(ctx context.Context, pool *pgxpool.Pool) (locks.Store, jobs.Store, results.Store, cycles.Store, error) {
	lockStore, err := lockspg.New(pool)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("init lock store: %w", err)
	}
	if err := lockStore.EnsureSchema(ctx); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("ensure lock schema: %w", err)
	}
	recordStore, err := jobspg.New(pool)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("init execution record store: %w", err)
	}
	if err := recordStore.EnsureSchema(ctx); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("ensure execution record schema: %w", err)
	}
	resultStore, err := resultspg.New(pool)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("init result store: %w", err)
	}
	if err := resultStore.EnsureSchema(ctx); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("ensure result schema: %w", err)
	}
	cycleStore, err := cyclespg.New(pool)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("init cycle store: %w", err)
	}
	if err := cycleStore.EnsureSchema(ctx); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("ensure cycle schema: %w", err)
	}
	return lockStore, recordStore, resultStore, cycleStore, nil
}

func initArchive(ctx context.Context, driver, bucket, prefix string) (ingest.Archiver, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "":
		return nil, nil
	case feedarchive.DriverMemory:
		return feedarchive.New(feedarchive.Config{Driver: feedarchive.DriverMemory, Prefix: prefix})
	case feedarchive.DriverS3:
		if strings.TrimSpace(bucket) == "" {
			return nil, fmt.Errorf("--archive-bucket is required for s3 archive")
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return feedarchive.New(feedarchive.Config{
			Driver:   feedarchive.DriverS3,
			Prefix:   prefix,
			Bucket:   bucket,
			S3Client: s3.NewFromConfig(awsCfg),
		})
	default:
		return nil, fmt.Errorf("unsupported archive driver %q", driver)
	}
}
