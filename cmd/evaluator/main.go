package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scorecast/scorecast/internal/cycleevent"
	"github.com/scorecast/scorecast/internal/cycles"
	cyclespg "github.com/scorecast/scorecast/internal/cycles/postgres"
	"github.com/scorecast/scorecast/internal/queue"
	"github.com/scorecast/scorecast/internal/results"
	resultspg "github.com/scorecast/scorecast/internal/results/postgres"
	"github.com/scorecast/scorecast/internal/slips"
	slipspg "github.com/scorecast/scorecast/internal/slips/postgres"
)

func main() {
	var (
		postgresDSN = flag.String("postgres-dsn", "", "Postgres DSN (required when --store-driver=postgres)")
		storeDriver = flag.String("store-driver", "postgres", "store driver: postgres|memory")

		queueDriver  = flag.String("queue-driver", queue.DriverKafka, "queue driver: kafka|stdio")
		queueBrokers = flag.String("queue-brokers", "", "comma-separated queue brokers; empty disables event consumption")
		queueGroup   = flag.String("queue-group", "slip-evaluator", "queue consumer group")
		queueTopics  = flag.String("queue-topics", cycleevent.TopicCycleResolved, "comma-separated queue topics")
		ackTimeout   = flag.Duration("queue-ack-timeout", 5*time.Second, "timeout for queue message acknowledgements")

		sweepEvery = flag.Duration("sweep-interval", 5*time.Minute, "poll fallback interval for resolved cycles the event stream missed")
		sweepLimit = flag.Int("sweep-limit", 20, "resolved cycles swept per poll")

		evalTimeout = flag.Duration("evaluate-timeout", 5*time.Minute, "per-cycle evaluation timeout")
		batchSize   = flag.Int("batch-size", 200, "slips scored per store page")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *sweepEvery <= 0 || *sweepLimit <= 0 || *evalTimeout <= 0 || *batchSize <= 0 || *ackTimeout <= 0 {
		fmt.Fprintln(os.Stderr, "error: --sweep-interval, --sweep-limit, --evaluate-timeout, --batch-size, and --queue-ack-timeout must be > 0")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		slipStore   slips.Store
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

		slipStore, resultStore, cycleStore, err = initPostgresStores(ctx, pool)
		if err != nil {
			log.Error("init postgres stores", "err", err)
			os.Exit(2)
		}
	case "memory":
		slipStore = slips.NewMemoryStore()
		resultStore = results.NewMemoryStore()
		cycleStore = cycles.NewMemoryStore()
	default:
		fmt.Fprintf(os.Stderr, "error: unsupported --store-driver %q\n", *storeDriver)
		os.Exit(2)
	}

	evaluator, err := slips.NewEvaluator(slips.EvaluatorConfig{BatchSize: *batchSize}, slipStore, resultStore, cycleStore, log)
	if err != nil {
		log.Error("init evaluator", "err", err)
		os.Exit(2)
	}

	var (
		msgCh <-chan queue.Message
		errCh <-chan error
	)
	if strings.TrimSpace(*queueBrokers) != "" || strings.EqualFold(strings.TrimSpace(*queueDriver), queue.DriverStdio) {
		consumer, err := queue.NewConsumer(ctx, queue.ConsumerConfig{
			Driver:  *queueDriver,
			Brokers: queue.SplitCommaList(*queueBrokers),
			Group:   *queueGroup,
			Topics:  queue.SplitCommaList(*queueTopics),
		})
		if err != nil {
			log.Error("init queue consumer", "err", err)
			os.Exit(2)
		}
		defer func() { _ = consumer.Close() }()
		msgCh = consumer.Messages()
		errCh = consumer.Errors()
	}

	evaluate := func(cycleID uint64) {
		cctx, cancel := context.WithTimeout(ctx, *evalTimeout)
		defer cancel()
		rep, err := evaluator.EvaluateCycle(cctx, cycleID)
		if err != nil {
			if errors.Is(err, slips.ErrCycleNotResolved) {
				log.Warn("cycle not resolved yet, leaving to sweep", "cycle", cycleID)
				return
			}
			log.Error("evaluate cycle", "cycle", cycleID, "err", err)
			return
		}
		log.Info("cycle evaluated", "cycle", cycleID,
			"total", rep.Total, "evaluated", rep.Evaluated, "alreadyDone", rep.AlreadyDone,
			"errors", rep.Errors, "completed", rep.Completed)
	}

	sweep := func() {
		cctx, cancel := context.WithTimeout(ctx, *evalTimeout)
		defer cancel()
		completed, err := evaluator.SweepResolved(cctx, *sweepLimit)
		if err != nil {
			log.Error("sweep resolved cycles", "err", err)
			return
		}
		if completed > 0 {
			log.Info("sweep completed cycles", "completed", completed)
		}
	}

	log.Info("evaluator started",
		"storeDriver", strings.ToLower(strings.TrimSpace(*storeDriver)),
		"queueDriver", *queueDriver,
		"sweepInterval", sweepEvery.String(),
		"eventsEnabled", msgCh != nil,
	)

	// Sweep once on startup so cycles resolved while the evaluator was down
	// do not wait a full interval.
	sweep()

	t := time.NewTicker(*sweepEvery)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown", "reason", ctx.Err())
			return
		case <-t.C:
			sweep()
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				log.Error("queue consume error", "err", err)
			}
		case qmsg, ok := <-msgCh:
			if !ok {
				// Event stream closed (stdio EOF or consumer shutdown); the
				// poll fallback keeps the evaluator useful, but for stdio
				// batch runs exiting is the expected behavior.
				log.Info("event stream closed, exiting")
				return
			}
			line := bytes.TrimSpace(qmsg.Value)
			if len(line) == 0 {
				ackMessage(qmsg, *ackTimeout, log)
				continue
			}
			ev, err := cycleevent.DecodeResolved(line)
			if err != nil {
				log.Error("parse cycle.resolved event", "err", err)
				ackMessage(qmsg, *ackTimeout, log)
				continue
			}
			evaluate(ev.CycleID)
			ackMessage(qmsg, *ackTimeout, log)
		}
	}
}

func ackMessage(msg queue.Message, timeout time.Duration, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := msg.Ack(ctx); err != nil {
		log.Error("ack queue message", "topic", msg.Topic, "err", err)
	}
}

func initPostgresStores(ctx context.Context, pool *pgxpool.Pool) (slips.Store, results.Store, cycles.Store, error) {
	slipStore, err := slipspg.New(pool)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init slip store: %w", err)
	}
	if err := slipStore.EnsureSchema(ctx); err != nil {
		return nil, nil, nil, fmt.Errorf("ensure slip schema: %w", err)
	}
	resultStore, err := resultspg.New(pool)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init result store: %w", err)
	}
	if err := resultStore.EnsureSchema(ctx); err != nil {
		return nil, nil, nil, fmt.Errorf("ensure result schema: %w", err)
	}
	cycleStore, err := cyclespg.New(pool)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init cycle store: %w", err)
	}
	if err := cycleStore.EnsureSchema(ctx); err != nil {
		return nil, nil, nil, fmt.Errorf("ensure cycle schema: %w", err)
	}
	return slipStore, resultStore, cycleStore, nil
}
