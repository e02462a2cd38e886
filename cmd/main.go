package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"ashare-trader/internal/broker"
	"ashare-trader/internal/data"
	"ashare-trader/internal/executor"
	"ashare-trader/internal/model"
	"ashare-trader/internal/service"
	"ashare-trader/internal/store"
	"ashare-trader/internal/strategy"
	"ashare-trader/pkg/ta"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	configPath := "config"
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "Configuration directory 'config/' not found. Please create it.")
		os.Exit(1)
	}
	cfg := service.LoadConfig(configPath)

	service.InitLogger(cfg.Paths.LogFile)
	defer service.Logger.Sync()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: ashare-trader <eod|submit|reconcile> [trade-date]")
		os.Exit(2)
	}
	phase := os.Args[1]

	// 三个阶段独立顺序执行：收盘批处理、夜间报单、次日对账
	tradeDate, err := resolveTradeDate(phase, os.Args[2:])
	if err != nil {
		service.Logger.Fatal("Invalid trade date", zap.Error(err))
	}

	runID := uuid.NewString()
	logger := service.Logger.With(zap.String("run_id", runID), zap.String("phase", phase))
	logger.Info("Run started", zap.String("trade_date", tradeDate))

	if err := ensureDirs(cfg); err != nil {
		logger.Fatal("Failed to create data directories", zap.Error(err))
	}

	ctx := context.Background()
	switch phase {
	case "eod":
		err = runEOD(ctx, cfg, tradeDate, logger)
	case "submit":
		err = runSubmit(ctx, cfg, tradeDate, logger)
	case "reconcile":
		err = runReconcile(ctx, cfg, tradeDate, logger)
	default:
		fmt.Fprintf(os.Stderr, "unknown phase %q\n", phase)
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal("Run failed", zap.Error(err))
	}
	logger.Info("Run finished")
}

// resolveTradeDate 对账阶段默认处理前一工作日的批次，其余阶段默认今天
func resolveTradeDate(phase string, args []string) (string, error) {
	if len(args) > 0 {
		if _, err := service.ParseTradeDate(args[0]); err != nil {
			return "", err
		}
		return args[0], nil
	}
	if phase == "reconcile" {
		return service.PrevBusinessDay(service.Today())
	}
	return service.Today(), nil
}

func ensureDirs(cfg *service.Config) error {
	dirs := []string{
		cfg.Paths.StocksDir(),
		cfg.Paths.PendingOrdersDir(),
		cfg.Paths.TradesDir(),
		cfg.Paths.ReportsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// runEOD 收盘批处理：刷新行情 → 指标 → 信号 → 生成待报批次
func runEOD(ctx context.Context, cfg *service.Config, tradeDate string, logger *zap.Logger) error {
	catalog, err := data.LoadCatalog(cfg.Paths.PoolFile,
		filepath.Join(cfg.Paths.ReportsDir(), "invalid_codes.log"))
	if err != nil {
		return err
	}

	marketStore := data.NewMarketStore(cfg.Paths.StocksDir())
	retry := service.NewRetryPolicy(cfg.Orders.Retry)
	fetcher := data.NewFetcher(
		data.NewHTTPQuoteClient(cfg.MarketData.QuoteURL),
		marketStore,
		retry,
		cfg.MarketData.FetchWorkers,
		cfg.MarketData.FetchDays,
	)
	fetcher.RefreshAll(ctx, catalog.Codes())

	positions, err := store.Open(cfg.Paths.PositionDB())
	if err != nil {
		return err
	}
	defer positions.Close()

	calc := ta.NewCalculator(
		cfg.Strategy.ShortWindow,
		cfg.Strategy.LongWindow,
		cfg.Strategy.SmoothWindow,
		cfg.Strategy.MinHistoryDays,
	)
	generator := strategy.NewSignalGenerator(logger)

	var signals []model.Signal
	for _, code := range catalog.Codes() {
		bars, err := marketStore.Load(code)
		if err != nil {
			logger.Error("History load failed, skipping instrument",
				zap.String("code", code), zap.Error(err))
			continue
		}
		bars, err = calc.Enrich(code, bars)
		if err != nil {
			if errors.Is(err, model.ErrInsufficientHistory) {
				logger.Warn("Insufficient history, skipping instrument",
					zap.String("code", code), zap.Error(err))
				continue
			}
			return err
		}

		pos, err := positions.Get(code)
		if err != nil {
			return err
		}
		sigs, pos := generator.Evaluate(code, bars, pos)
		if err := positions.Upsert(pos); err != nil {
			return err
		}
		for i := range sigs {
			if inst, ok := catalog.Get(sigs[i].Code); ok {
				sigs[i].SecurityName = inst.Name
			}
			logger.Info("!!! NEW TRADING SIGNAL !!!", zap.String("signal", sigs[i].String()))
		}
		signals = append(signals, sigs...)
	}

	batches := executor.NewBatchStore(cfg.Paths.PendingOrdersDir())
	builder := executor.NewPendingOrderBuilder(
		batches,
		positions,
		catalog,
		strategy.NewLimitTable(cfg.PriceLimit.Overrides),
		cfg.Orders.VolumePerTrade,
		logger,
	)
	if _, err := builder.Build(tradeDate, signals); err != nil {
		return err
	}

	// 持仓 CSV 是衍生导出，供次日早晨人工复盘
	return positions.ExportCSV(filepath.Join(cfg.Paths.DataRoot, "positions.csv"))
}

// runSubmit 夜间报单：把当天生成的批次逐笔报入柜台
func runSubmit(ctx context.Context, cfg *service.Config, tradeDate string, logger *zap.Logger) error {
	catalog, err := data.LoadCatalog(cfg.Paths.PoolFile,
		filepath.Join(cfg.Paths.ReportsDir(), "invalid_codes.log"))
	if err != nil {
		return err
	}

	session := broker.NewGatewaySession(cfg.Broker, logger)
	exec := executor.NewOrderExecutor(
		session,
		executor.NewBatchStore(cfg.Paths.PendingOrdersDir()),
		data.NewMarketStore(cfg.Paths.StocksDir()),
		catalog,
		strategy.NewLimitTable(cfg.PriceLimit.Overrides),
		service.NewRetryPolicy(cfg.Orders.Retry),
		cfg.Paths.ReportsDir(),
		logger,
	)
	result, err := exec.Execute(ctx, tradeDate)
	if err != nil {
		return err
	}
	logger.Info("Submission finished",
		zap.Int("submitted", result.Submitted),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped))
	return nil
}

// runReconcile 次日对账：核对实际成交并更新权威持仓
func runReconcile(ctx context.Context, cfg *service.Config, tradeDate string, logger *zap.Logger) error {
	positions, err := store.Open(cfg.Paths.PositionDB())
	if err != nil {
		return err
	}
	defer positions.Close()

	retry := service.NewRetryPolicy(cfg.Orders.Retry)
	session := broker.NewGatewaySession(cfg.Broker, logger)
	rec := executor.NewReconciler(
		session,
		executor.NewBatchStore(cfg.Paths.PendingOrdersDir()),
		positions,
		retry,
		retry,
		cfg.Paths.TradesDir(),
		cfg.Paths.ReportsDir(),
		logger,
	)
	summary, err := rec.Reconcile(ctx, tradeDate)
	if err != nil {
		return err
	}
	logger.Info("Reconciliation summary",
		zap.Int("records", len(summary.Records)),
		zap.Int("manual_review", summary.ManualReview))

	return positions.ExportCSV(filepath.Join(cfg.Paths.DataRoot, "positions.csv"))
}
