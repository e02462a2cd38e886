package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"ashare-trader/internal/broker"
	"ashare-trader/internal/data"
	"ashare-trader/internal/model"
	"ashare-trader/internal/service"
	"ashare-trader/internal/strategy"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ExecResult 汇总一次报单运行的结果
type ExecResult struct {
	Submitted int
	Failed    int
	Skipped   int
}

// OrderExecutor 把某交易日的待报批次逐笔报入柜台。
// 单笔失败只记录并继续（continue-on-error）；只有登录
// 重试耗尽才终止整个运行。会话登出通过 defer 保证。
type OrderExecutor struct {
	session    broker.Session
	batches    *BatchStore
	market     *data.MarketStore
	catalog    *data.Catalog
	limits     strategy.LimitTable
	loginRetry service.RetryPolicy
	reportsDir string
	logger     *zap.Logger
}

// NewOrderExecutor 初始化报单执行器
func NewOrderExecutor(
	session broker.Session,
	batches *BatchStore,
	market *data.MarketStore,
	catalog *data.Catalog,
	limits strategy.LimitTable,
	loginRetry service.RetryPolicy,
	reportsDir string,
	logger *zap.Logger,
) *OrderExecutor {
	return &OrderExecutor{
		session:    session,
		batches:    batches,
		market:     market,
		catalog:    catalog,
		limits:     limits,
		loginRetry: loginRetry,
		reportsDir: reportsDir,
		logger:     logger,
	}
}

// Execute 报入 tradeDate 批次中所有尚未报出的订单。
// 已有 RequestID 的条目跳过，重复执行不会重复报单。
func (e *OrderExecutor) Execute(ctx context.Context, tradeDate string) (ExecResult, error) {
	var result ExecResult

	orders, err := e.batches.Load(tradeDate)
	if err != nil {
		return result, err
	}
	if len(orders) == 0 {
		e.logger.Info("No pending orders to execute", zap.String("trade_date", tradeDate))
		return result, nil
	}

	// 登录重试耗尽是致命错误：一单未报，直接终止
	if err := e.loginRetry.Call(ctx, "broker login", func() error {
		return e.session.Login(ctx)
	}); err != nil {
		return result, fmt.Errorf("%w: %v", model.ErrLoginFailed, err)
	}
	defer func() {
		if err := e.session.Logout(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("Broker logout failed", zap.Error(err))
		}
	}()

	var failed []model.PendingOrder
	for i := range orders {
		order := &orders[i]
		if order.Submitted() || order.Reconciled {
			result.Skipped++
			e.logger.Debug("Order already submitted, skipping",
				zap.String("code", order.Code), zap.String("request_id", order.RequestID))
			continue
		}

		if err := e.submitOne(ctx, order); err != nil {
			order.Notes = err.Error()
			failed = append(failed, *order)
			result.Failed++
			e.logger.Error("Order submission failed, continuing batch",
				zap.String("code", order.Code),
				zap.String("side", string(order.Side)),
				zap.Error(err))
			continue
		}
		result.Submitted++
		e.logger.Info("Order submitted",
			zap.String("code", order.Code),
			zap.String("side", string(order.Side)),
			zap.Float64("limit_price", order.LimitPrice),
			zap.Int64("volume", order.Volume),
			zap.String("request_id", order.RequestID))
	}

	if err := e.batches.Save(tradeDate, orders); err != nil {
		return result, err
	}
	if err := e.writeFailedReport(tradeDate, failed); err != nil {
		e.logger.Warn("Failed to write failed-orders report", zap.Error(err))
	}
	return result, nil
}

func (e *OrderExecutor) submitOne(ctx context.Context, order *model.PendingOrder) error {
	// 批次正常由构建阶段带好限价；缺失时按报单日重新解析昨收并补算
	if order.LimitPrice <= 0 {
		price, err := e.resolveLimitPrice(order)
		if err != nil {
			return err
		}
		order.LimitPrice = price
	}

	resp, err := e.session.PlaceOrder(ctx, broker.OrderRequest{
		Code:      order.Code,
		Side:      order.Side,
		Price:     order.LimitPrice,
		Volume:    order.Volume,
		ClientRef: uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("place order: %w", err)
	}
	if !resp.OK() {
		return fmt.Errorf("venue rejected order: code=%d msg=%s", resp.ErrorCode, resp.ErrorMsg)
	}

	order.RequestID = resp.RequestID
	order.ResponseTime = time.Now().UTC().Format(time.RFC3339)
	return nil
}

func (e *OrderExecutor) resolveLimitPrice(order *model.PendingOrder) (float64, error) {
	prevClose, err := e.market.PrevClose(order.Code, order.TradeDate)
	if err != nil {
		return 0, err
	}
	category := data.InferCategory(order.Code, "")
	tick := data.InferTickSize(order.Code)
	if inst, ok := e.catalog.Get(order.Code); ok {
		category = inst.Category
		tick = inst.TickSize
	}
	return e.limits.LimitPrice(prevClose, order.Side, category, tick)
}

func (e *OrderExecutor) writeFailedReport(tradeDate string, failed []model.PendingOrder) error {
	if len(failed) == 0 {
		return nil
	}
	raw, err := json.MarshalIndent(failed, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(e.reportsDir, tradeDate+"_failed_orders.json")
	if err := service.WriteFileAtomic(path, raw); err != nil {
		return err
	}
	e.logger.Warn("Failed orders recorded for morning review",
		zap.Int("count", len(failed)), zap.String("path", path))
	return nil
}
