package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"l3sim/config"
	"l3sim/domain/session"
	"l3sim/hook"
	"l3sim/infra/kafka"
	"l3sim/infra/logging"
	"l3sim/infra/outbox"
	"l3sim/jobs/broadcaster"
	"l3sim/service"
	"l3sim/snapshot"
)

func main() {
	envPath := flag.String("env", "", "path to a .env file")
	flag.Parse()

	// ---------------- Config ----------------

	cfg, err := config.Load(*envPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------- Stores ----------------

	box, err := outbox.Open(cfg.OutboxDir)
	if err != nil {
		logger.Fatal("outbox open", zap.String("dir", cfg.OutboxDir), zap.Error(err))
	}
	defer box.Close()

	store, err := snapshot.OpenStore(cfg.SnapshotDir)
	if err != nil {
		logger.Fatal("snapshot store open", zap.String("dir", cfg.SnapshotDir), zap.Error(err))
	}
	defer store.Close()

	// ---------------- Exchange ----------------

	ex, err := service.NewExchange(cfg.Mode, cfg.Date, service.WithLogger(logger))
	if err != nil {
		logger.Fatal("exchange init", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	metrics := hook.NewMetrics(reg)
	publisher := hook.NewPublisher(ctx, hook.OutboxSink{Outbox: box}, cfg.HookLevels, logger)
	recorders := make(map[string]*hook.Recorder)

	for _, code := range cfg.Codes {
		if err := ex.AddBroker("", cfg.StockType, code, cfg.LotSize); err != nil {
			logger.Fatal("add broker", zap.String("code", code), zap.Error(err))
		}
		if err := restoreLatest(ex, store, code, logger); err != nil {
			logger.Fatal("snapshot restore", zap.String("code", code), zap.Error(err))
		}

		cur, err := service.OpenHistory(filepath.Join(cfg.JournalDir, code))
		if err != nil {
			logger.Fatal("journal open", zap.String("code", code), zap.Error(err))
		}
		defer cur.Close()
		if err := ex.AddData(code, cur); err != nil {
			logger.Fatal("attach history", zap.String("code", code), zap.Error(err))
		}

		mustHook(logger, ex.RegisterHook(code, "metrics", metrics, 1))
		mustHook(logger, ex.RegisterHook(code, "outbox", publisher, cfg.HookLevels))
		if cfg.RecordDir != "" {
			rec := hook.NewRecorder(true)
			mustHook(logger, ex.RegisterHook(code, "recorder", rec, hook.RecorderLevels))
			recorders[code] = rec
		}
	}

	// ---------------- Background Jobs ----------------

	if cfg.SnapshotInterval > 0 {
		ex.StartSnapshotJob(ctx, store, nil, cfg.SnapshotInterval)
	}

	var execs *kafka.Producer
	if cfg.Publishing() {
		bc, err := broadcaster.New(box, cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			logger.Fatal("broadcaster init", zap.Strings("brokers", cfg.KafkaBrokers), zap.Error(err))
		}
		bc.Start(ctx)
		defer bc.Close()

		execs = kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic+".executions", logger)
		defer execs.Close()
	}

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener", zap.Error(err))
			}
		}()
		defer srv.Shutdown(context.Background())
	}

	// ---------------- Replay ----------------

	end, _ := session.End(cfg.Date)
	logger.Info("simulator running",
		zap.String("mode", cfg.Mode),
		zap.String("date", cfg.Date),
		zap.Strings("codes", cfg.Codes),
		zap.Duration("step", cfg.Step),
	)

	if err := run(ctx, ex, end, cfg.StepMillis(), execs, logger); err != nil {
		logger.Error("replay stopped", zap.Error(err))
	}

	// ---------------- Shutdown ----------------

	if _, err := ex.SaveSnapshots(store); err != nil {
		logger.Error("final snapshot", zap.Error(err))
	}
	for code, rec := range recorders {
		if err := dump(filepath.Join(cfg.RecordDir, code+".jsonl"), rec); err != nil {
			logger.Error("record dump", zap.String("code", code), zap.Error(err))
		}
	}
	logger.Info("simulator stopped")
}

// run steps every broker until each one has passed end or ctx is cancelled.
func run(ctx context.Context, ex *service.Exchange, end, stepMs int64, execs *kafka.Producer, logger *zap.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		filled, err := ex.Elapse(stepMs)
		if err != nil {
			return err
		}

		done := true
		for code, n := range filled {
			if n > 0 {
				logger.Debug("user fills", zap.String("code", code), zap.Int64("shares", n))
			}
			if err := publishExecutions(ctx, ex, code, execs); err != nil {
				logger.Warn("publish executions", zap.String("code", code), zap.Error(err))
			}
			if t, err := ex.CurrentTime(code); err != nil || t < end {
				done = false
			}
		}
		if done {
			return nil
		}
	}
}

func restoreLatest(ex *service.Exchange, store *snapshot.Store, code string, logger *zap.Logger) error {
	ts, doc, err := store.Latest(code)
	if errors.Is(err, snapshot.ErrNoSnapshot) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := ex.RestoreDoc(code, doc); err != nil {
		return err
	}
	logger.Info("resumed from snapshot", zap.String("code", code), zap.Int64("ts", ts))
	return nil
}

// publishExecutions drains the trade tape of code, sending it when a producer is set.
func publishExecutions(ctx context.Context, ex *service.Exchange, code string, p *kafka.Producer) error {
	list, err := ex.DrainExecutions(code)
	if err != nil || p == nil {
		return err
	}
	for _, e := range list {
		doc, err := structpb.NewStruct(map[string]any{
			"code":         code,
			"tick":         float64(e.Tick),
			"qty":          float64(e.Qty),
			"taker_id":     float64(e.TakerID),
			"taker_source": e.TakerSource.String(),
			"taker_side":   e.TakerSide.String(),
			"maker_id":     float64(e.MakerID),
			"maker_source": e.MakerSource.String(),
		})
		if err != nil {
			return err
		}
		b, err := protojson.Marshal(doc)
		if err != nil {
			return err
		}
		if err := p.Send(ctx, []byte(code), b); err != nil {
			return err
		}
	}
	return nil
}

func dump(path string, rec *hook.Recorder) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := rec.Dump(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func mustHook(logger *zap.Logger, err error) {
	if err != nil {
		logger.Fatal("register hook", zap.Error(err))
	}
}
