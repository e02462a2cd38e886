package strategy

import (
	"math"

	"ashare-trader/internal/model"
)

// Action 定义了状态机一次迁移对外发出的动作
type Action string

const (
	ActionNone Action = "NONE" // 无操作
	ActionBuy  Action = "BUY"  // 发出买入信号
	ActionSell Action = "SELL" // 发出卖出信号
)

// Transition 是持仓状态机的核心迁移函数，对 (状态, CHO_{t-1}, CHO_t) 做穷举：
//
//	Flat        + CHO 上行 → 发 Buy，转 Holding（试探性，成交量由对账确定）
//	Holding     + CHO 回落 → 转 PendingSell，暂不发单
//	PendingSell + CHO 续跌 → 发 Sell，转 Flat（两日确认，过滤单日噪声）
//	PendingSell + CHO 企稳 → 撤销，转回 Holding
//
// CHO 缺失（NaN）或持平一律视为"无变化"，不触发任何迁移。
func Transition(status model.PositionStatus, choPrev, choCur float64) (Action, model.PositionStatus) {
	if math.IsNaN(choPrev) || math.IsNaN(choCur) || choCur == choPrev {
		return ActionNone, status
	}

	rising := choCur > choPrev

	switch status {
	case model.StatusFlat:
		if rising {
			return ActionBuy, model.StatusHolding
		}
		return ActionNone, model.StatusFlat

	case model.StatusHolding:
		if !rising {
			return ActionNone, model.StatusPendingSell
		}
		return ActionNone, model.StatusHolding

	case model.StatusPendingSell:
		if !rising {
			return ActionSell, model.StatusFlat
		}
		// 回落只持续了一天，撤销待卖标记
		return ActionNone, model.StatusHolding
	}

	return ActionNone, status
}
