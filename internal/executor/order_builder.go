package executor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"ashare-trader/internal/data"
	"ashare-trader/internal/model"
	"ashare-trader/internal/service"
	"ashare-trader/internal/store"
	"ashare-trader/internal/strategy"

	"go.uber.org/zap"
)

// BatchStore 管理每个交易日一份的待报订单批次文件（JSON）。
// 批次在对账完成后成为不可变历史档案，修正只能另起新批次。
type BatchStore struct {
	dir string
}

// NewBatchStore 创建批次存储，dir 为 pending_orders 目录
func NewBatchStore(dir string) *BatchStore {
	return &BatchStore{dir: dir}
}

// Path 返回某交易日批次文件路径
func (b *BatchStore) Path(tradeDate string) string {
	return filepath.Join(b.dir, tradeDate+".json")
}

// Load 读取某交易日的批次，文件不存在时返回空批次
func (b *BatchStore) Load(tradeDate string) ([]model.PendingOrder, error) {
	raw, err := os.ReadFile(b.Path(tradeDate))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load order batch %s: %w", tradeDate, err)
	}
	var orders []model.PendingOrder
	if err := json.Unmarshal(raw, &orders); err != nil {
		return nil, fmt.Errorf("decode order batch %s: %w", tradeDate, err)
	}
	return orders, nil
}

// Save 原子写回整份批次，保持条目顺序
func (b *BatchStore) Save(tradeDate string, orders []model.PendingOrder) error {
	raw, err := json.MarshalIndent(orders, "", "  ")
	if err != nil {
		return err
	}
	return service.WriteFileAtomic(b.Path(tradeDate), raw)
}

// PendingOrderBuilder 把一批信号转换为某交易日的待报订单批次。
// 同一 (code, 交易日) 只会生成一条订单：重复处理同一天的信号
// 不会产生重复订单。
type PendingOrderBuilder struct {
	batches        *BatchStore
	positions      *store.PositionStore
	catalog        *data.Catalog
	limits         strategy.LimitTable
	volumePerTrade int64
	logger         *zap.Logger
}

// NewPendingOrderBuilder 初始化订单构建器
func NewPendingOrderBuilder(
	batches *BatchStore,
	positions *store.PositionStore,
	catalog *data.Catalog,
	limits strategy.LimitTable,
	volumePerTrade int64,
	logger *zap.Logger,
) *PendingOrderBuilder {
	return &PendingOrderBuilder{
		batches:        batches,
		positions:      positions,
		catalog:        catalog,
		limits:         limits,
		volumePerTrade: volumePerTrade,
		logger:         logger,
	}
}

// Build 根据信号生成（或增量补充）tradeDate 的订单批次并落盘。
// 条目顺序与信号产生顺序一致，保证下游处理的确定性。
func (b *PendingOrderBuilder) Build(tradeDate string, signals []model.Signal) ([]model.PendingOrder, error) {
	orders, err := b.batches.Load(tradeDate)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(orders))
	for _, o := range orders {
		seen[o.Code] = true
	}

	for _, sig := range signals {
		if seen[sig.Code] {
			b.logger.Warn("Order already exists for code on this trade date, skipping signal",
				zap.String("code", sig.Code), zap.String("trade_date", tradeDate))
			continue
		}

		volume, ok := b.resolveVolume(sig)
		if !ok {
			continue
		}
		limitPrice, ok := b.resolveLimitPrice(sig)
		if !ok {
			continue
		}

		orders = append(orders, model.PendingOrder{
			Code:       sig.Code,
			Side:       sig.Side,
			Volume:     volume,
			LimitPrice: limitPrice,
			SignalTime: sig.SignalTime,
			TradeDate:  tradeDate,
		})
		seen[sig.Code] = true
	}

	if err := b.batches.Save(tradeDate, orders); err != nil {
		return nil, err
	}
	b.logger.Info("Pending order batch written",
		zap.String("trade_date", tradeDate),
		zap.Int("orders", len(orders)),
		zap.String("path", b.batches.Path(tradeDate)))
	return orders, nil
}

// resolveVolume 买入用固定手数，卖出清空当前全部持仓
func (b *PendingOrderBuilder) resolveVolume(sig model.Signal) (int64, bool) {
	if sig.Side == model.SideBuy {
		return b.volumePerTrade, true
	}
	pos, err := b.positions.Get(sig.Code)
	if err != nil {
		b.logger.Error("Position lookup failed, skipping sell signal",
			zap.String("code", sig.Code), zap.Error(err))
		return 0, false
	}
	if pos == nil || pos.HoldVolume <= 0 {
		b.logger.Warn("Sell signal with no holdings, skipping",
			zap.String("code", sig.Code))
		return 0, false
	}
	return pos.HoldVolume, true
}

func (b *PendingOrderBuilder) resolveLimitPrice(sig model.Signal) (float64, bool) {
	if sig.PriceHint <= 0 {
		b.logger.Warn("Signal lacks reference price, skipping",
			zap.String("code", sig.Code))
		return 0, false
	}

	category := model.CategoryNormal
	tick := data.InferTickSize(sig.Code)
	if inst, ok := b.catalog.Get(sig.Code); ok {
		category = inst.Category
		tick = inst.TickSize
	} else {
		category = data.InferCategory(sig.Code, sig.SecurityName)
	}

	price, err := b.limits.LimitPrice(sig.PriceHint, sig.Side, category, tick)
	if err != nil {
		b.logger.Error("Limit price calculation failed, skipping",
			zap.String("code", sig.Code),
			zap.String("category", string(category)),
			zap.Error(err))
		return 0, false
	}
	return price, true
}
