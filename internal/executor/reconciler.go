package executor

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"ashare-trader/internal/broker"
	"ashare-trader/internal/model"
	"ashare-trader/internal/service"
	"ashare-trader/internal/store"

	"go.uber.org/zap"
)

// ReconcileSummary 一次对账运行的汇总
type ReconcileSummary struct {
	TradeDate    string
	Records      []model.TradeRecord
	ManualReview int // 柜台查无此单等需人工复核的条数
}

// Reconciler 在次一工作日核对前一交易日批次的实际成交，
// 并据此更新权威持仓。对某交易日重复对账是幂等的：
// 已处理条目带 Reconciled 标记，持仓增量不会二次施加。
type Reconciler struct {
	session    broker.Session
	batches    *BatchStore
	positions  *store.PositionStore
	loginRetry service.RetryPolicy
	queryRetry service.RetryPolicy
	tradesDir  string
	reportsDir string
	logger     *zap.Logger
}

// NewReconciler 初始化对账器
func NewReconciler(
	session broker.Session,
	batches *BatchStore,
	positions *store.PositionStore,
	loginRetry service.RetryPolicy,
	queryRetry service.RetryPolicy,
	tradesDir, reportsDir string,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		session:    session,
		batches:    batches,
		positions:  positions,
		loginRetry: loginRetry,
		queryRetry: queryRetry,
		tradesDir:  tradesDir,
		reportsDir: reportsDir,
		logger:     logger,
	}
}

// Reconcile 对 tradeDate 的订单批次执行对账，写出成交 CSV 与摘要报告
func (r *Reconciler) Reconcile(ctx context.Context, tradeDate string) (*ReconcileSummary, error) {
	summary := &ReconcileSummary{TradeDate: tradeDate}

	orders, err := r.batches.Load(tradeDate)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		r.logger.Info("No order batch to reconcile", zap.String("trade_date", tradeDate))
		return summary, r.writeReports(summary)
	}

	if err := r.loginRetry.Call(ctx, "broker login", func() error {
		return r.session.Login(ctx)
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrLoginFailed, err)
	}
	defer func() {
		if err := r.session.Logout(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("Broker logout failed", zap.Error(err))
		}
	}()

	for i := range orders {
		order := &orders[i]
		record := r.reconcileOne(ctx, order)
		summary.Records = append(summary.Records, record)
		if record.ManualReview {
			summary.ManualReview++
		}

		// 持仓增量只施加一次；重复对账仅重建记录
		if !order.Reconciled {
			if err := r.applyToPosition(order, record); err != nil {
				r.logger.Error("Position update failed",
					zap.String("code", order.Code), zap.Error(err))
				continue // 不置 Reconciled，下次运行重试
			}
			order.Reconciled = true
		}
	}

	if err := r.batches.Save(tradeDate, orders); err != nil {
		return nil, err
	}
	if err := r.writeReports(summary); err != nil {
		return nil, err
	}
	r.logger.Info("Reconciliation finished",
		zap.String("trade_date", tradeDate),
		zap.Int("orders", len(orders)),
		zap.Int("manual_review", summary.ManualReview))
	return summary, nil
}

// reconcileOne 查询单笔订单的终态并归类。查询重试耗尽的订单
// 标记为 Unfilled 并列入人工复核，绝不静默丢弃。
func (r *Reconciler) reconcileOne(ctx context.Context, order *model.PendingOrder) model.TradeRecord {
	record := model.TradeRecord{
		Code:       order.Code,
		Side:       order.Side,
		OrderPrice: order.LimitPrice,
		RequestID:  order.RequestID,
	}

	// 报单阶段就失败的订单没有柜台记录，直接归为 Rejected
	if !order.Submitted() {
		record.Status = model.TradeRejected
		r.logger.Warn("Order was never submitted, recording as rejected",
			zap.String("code", order.Code))
		return record
	}

	var status broker.OrderStatus
	err := r.queryRetry.Call(ctx, "query order "+order.RequestID, func() error {
		var err error
		status, err = r.session.QueryOrder(ctx, order.RequestID)
		return err
	})
	if err != nil {
		record.Status = model.TradeUnfilled
		record.ManualReview = true
		r.logger.Error("Order not found at venue after retries, flagged for manual review",
			zap.String("code", order.Code),
			zap.String("request_id", order.RequestID),
			zap.Error(err))
		return record
	}

	record.Status = classify(status.Status)
	record.TradedPrice = status.TradedPrice
	record.TradedVolume = status.TradedVolume
	record.OrderNumber = status.OrderNumber

	// 终态成交的订单再查一次成交明细，以明细价格为准
	if record.Status == model.TradeFilled || record.Status == model.TradePartiallyFilled {
		if trades, err := r.session.QueryTrades(ctx, order.Code); err != nil {
			r.logger.Warn("Trade detail query failed, using order status values",
				zap.String("code", order.Code), zap.Error(err))
		} else if len(trades) > 0 {
			var volume int64
			var notional float64
			for _, t := range trades {
				volume += t.Volume
				notional += t.Price * float64(t.Volume)
			}
			if volume > 0 {
				record.TradedVolume = volume
				record.TradedPrice = notional / float64(volume)
			}
		}
	}
	return record
}

func classify(venueStatus string) model.TradeStatus {
	switch venueStatus {
	case broker.OrderFilled:
		return model.TradeFilled
	case broker.OrderPartFilled:
		return model.TradePartiallyFilled
	case broker.OrderRejected:
		return model.TradeRejected
	case broker.OrderCancelled, broker.OrderUnfilled:
		return model.TradeUnfilled
	default:
		return model.TradeUnfilled
	}
}

// applyToPosition 把确认的成交结果写入权威持仓。
// 这是全系统唯一允许修改 HoldVolume 的地方。
func (r *Reconciler) applyToPosition(order *model.PendingOrder, record model.TradeRecord) error {
	// 未成交/被拒：持仓保持信号阶段的试探状态，不做修改
	if record.Status == model.TradeUnfilled || record.Status == model.TradeRejected {
		return nil
	}
	if record.TradedVolume <= 0 {
		return nil
	}

	pos, err := r.positions.Get(order.Code)
	if err != nil {
		return err
	}
	if pos == nil {
		pos = model.NewFlatPosition(order.Code)
	}

	switch {
	case order.Side == model.SideBuy && record.Status == model.TradeFilled:
		pos.Status = model.StatusHolding
		pos.HoldVolume = record.TradedVolume
		pos.LastBuyPrice = record.TradedPrice
		pos.PendingSellSince = ""

	case order.Side == model.SideBuy && record.Status == model.TradePartiallyFilled:
		pos.Status = model.StatusHolding
		pos.HoldVolume += record.TradedVolume
		pos.LastBuyPrice = record.TradedPrice
		pos.PendingSellSince = ""

	case order.Side == model.SideSell && record.Status == model.TradeFilled:
		pos.Status = model.StatusFlat
		pos.HoldVolume = 0
		pos.LastSellPrice = record.TradedPrice
		pos.PendingSellSince = ""

	case order.Side == model.SideSell && record.Status == model.TradePartiallyFilled:
		pos.HoldVolume -= record.TradedVolume
		pos.LastSellPrice = record.TradedPrice
		pos.PendingSellSince = ""
		if pos.HoldVolume <= 0 {
			pos.HoldVolume = 0
			pos.Status = model.StatusFlat
		} else {
			pos.Status = model.StatusHolding
		}
	}

	pos.UpdateTime = time.Now().UTC()
	return r.positions.Upsert(pos)
}

func (r *Reconciler) writeReports(summary *ReconcileSummary) error {
	if err := r.writeTradeCSV(summary); err != nil {
		return err
	}
	return r.writeMarkdown(summary)
}

func (r *Reconciler) writeTradeCSV(summary *ReconcileSummary) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"code", "side", "status", "order_price", "traded_price",
		"traded_volume", "order_number", "request_id"}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, rec := range summary.Records {
		row := []string{
			rec.Code,
			string(rec.Side),
			string(rec.Status),
			strconv.FormatFloat(rec.OrderPrice, 'f', -1, 64),
			strconv.FormatFloat(rec.TradedPrice, 'f', -1, 64),
			strconv.FormatInt(rec.TradedVolume, 10),
			rec.OrderNumber,
			rec.RequestID,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	path := filepath.Join(r.tradesDir, summary.TradeDate+".csv")
	if err := service.WriteFileAtomic(path, buf.Bytes()); err != nil {
		return err
	}
	r.logger.Info("Trade records written", zap.String("path", path))
	return nil
}

func (r *Reconciler) writeMarkdown(summary *ReconcileSummary) error {
	counts := map[model.TradeStatus]int{}
	for _, rec := range summary.Records {
		counts[rec.Status]++
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# Reconcile Report %s\n\n", summary.TradeDate)
	fmt.Fprintf(&buf, "- Total orders: %d\n", len(summary.Records))
	fmt.Fprintf(&buf, "- Filled: %d\n", counts[model.TradeFilled])
	fmt.Fprintf(&buf, "- Partially filled: %d\n", counts[model.TradePartiallyFilled])
	fmt.Fprintf(&buf, "- Unfilled: %d\n", counts[model.TradeUnfilled])
	fmt.Fprintf(&buf, "- Rejected: %d\n", counts[model.TradeRejected])
	fmt.Fprintf(&buf, "- Manual review: %d\n\n", summary.ManualReview)

	if summary.ManualReview > 0 {
		buf.WriteString("## Manual review\n")
		for _, rec := range summary.Records {
			if rec.ManualReview {
				fmt.Fprintf(&buf, "- %s %s request_id=%s: no venue record\n",
					rec.Code, rec.Side, rec.RequestID)
			}
		}
		buf.WriteString("\n")
	}

	buf.WriteString("## Trades\n")
	for _, rec := range summary.Records {
		if rec.TradedVolume > 0 {
			fmt.Fprintf(&buf, "- %s side=%s volume=%d price=%.3f\n",
				rec.Code, rec.Side, rec.TradedVolume, rec.TradedPrice)
		}
	}

	path := filepath.Join(r.reportsDir, summary.TradeDate+"_reconcile.md")
	return service.WriteFileAtomic(path, buf.Bytes())
}
