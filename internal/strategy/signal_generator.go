package strategy

import (
	"time"

	"ashare-trader/internal/model"

	"go.uber.org/zap"
)

// SignalGenerator 消费指标序列与持仓状态，产出买卖信号。
// 两日确认的跨日状态通过 Position.PendingSellSince 持久化在 PositionStore：
// 当日标记、次日运行时在新 bar 上确认或撤销，不需要额外缓存指标。
type SignalGenerator struct {
	logger *zap.Logger
}

// NewSignalGenerator 初始化信号生成器
func NewSignalGenerator(logger *zap.Logger) *SignalGenerator {
	return &SignalGenerator{logger: logger}
}

// Evaluate 对单只标的做一次日度评估：取最近两根指标有效的 bar，
// 驱动状态机一步，返回产生的信号（可能为空）与更新后的持仓。
// 返回的持仓只含试探性状态迁移，HoldVolume 不在此处变动。
func (sg *SignalGenerator) Evaluate(code string, bars []model.MarketBar, pos *model.Position) ([]model.Signal, *model.Position) {
	if pos == nil {
		pos = model.NewFlatPosition(code)
	}

	prev, latest, ok := lastTwoWithCHO(bars)
	if !ok {
		sg.logger.Debug("CHO not ready, no transition", zap.String("code", code))
		return nil, pos
	}

	action, next := Transition(pos.Status, prev.CHO, latest.CHO)

	var signals []model.Signal
	switch action {
	case ActionBuy:
		signals = append(signals, model.Signal{
			Code:       code,
			Side:       model.SideBuy,
			PriceHint:  latest.Close,
			SignalTime: latest.Date,
		})
		pos.LastSignalTime = latest.Date
	case ActionSell:
		signals = append(signals, model.Signal{
			Code:       code,
			Side:       model.SideSell,
			PriceHint:  latest.Close,
			SignalTime: latest.Date,
		})
		pos.LastSignalTime = latest.Date
	}

	if next == model.StatusPendingSell && pos.Status != model.StatusPendingSell {
		pos.PendingSellSince = latest.Date
	}
	if next != model.StatusPendingSell {
		pos.PendingSellSince = ""
	}

	if next != pos.Status {
		sg.logger.Info("Position state transition",
			zap.String("code", code),
			zap.String("from", string(pos.Status)),
			zap.String("to", string(next)),
			zap.Float64("cho_prev", prev.CHO),
			zap.Float64("cho", latest.CHO))
	}
	pos.Status = next
	pos.UpdateTime = time.Now().UTC()

	return signals, pos
}

// lastTwoWithCHO 返回序列中最后两根 CHO 有效的 bar
func lastTwoWithCHO(bars []model.MarketBar) (prev, latest model.MarketBar, ok bool) {
	idx := make([]int, 0, 2)
	for i := len(bars) - 1; i >= 0 && len(idx) < 2; i-- {
		if bars[i].HasCHO() {
			idx = append(idx, i)
		}
	}
	if len(idx) < 2 {
		return model.MarketBar{}, model.MarketBar{}, false
	}
	return bars[idx[1]], bars[idx[0]], true
}
