package strategy

import (
	"fmt"

	"ashare-trader/internal/model"

	"github.com/shopspring/decimal"
)

// 交易所默认涨跌停比例
var defaultLimitPcts = map[model.Category]float64{
	model.CategoryNormal: 0.10,
	model.CategoryST:     0.05,
	model.CategoryGrowth: 0.20,
	model.CategoryStar:   0.20,
	model.CategoryBJ:     0.20,
}

// LimitTable 各板块涨跌停比例表，支持配置覆盖默认值
type LimitTable struct {
	pcts map[model.Category]float64
}

// NewLimitTable 以默认比例为底，应用配置中的覆盖项
func NewLimitTable(overrides map[string]float64) LimitTable {
	pcts := make(map[model.Category]float64, len(defaultLimitPcts))
	for cat, pct := range defaultLimitPcts {
		pcts[cat] = pct
	}
	for name, pct := range overrides {
		pcts[model.Category(name)] = pct
	}
	return LimitTable{pcts: pcts}
}

// LimitPrice 计算合规限价：买向上取整到 tick（顶至涨停不吃亏），
// 卖向下取整到 tick。内部用 decimal 运算，天然规避浮点表示误差，
// 不需要额外的 epsilon 修正。
//
//	raw = prevClose * (1 ± pct)
//	Buy:  ceil(raw / tick) * tick
//	Sell: floor(raw / tick) * tick
//
// 结果保留 tick 对应的小数位（0.01 → 2 位，0.001 → 3 位）。
func (t LimitTable) LimitPrice(prevClose float64, side model.Side, category model.Category, tickSize float64) (float64, error) {
	pct, ok := t.pcts[category]
	if !ok {
		return 0, fmt.Errorf("category %q: %w", category, model.ErrInvalidCategory)
	}

	places := int32(2)
	if tickSize < 0.01 {
		places = 3
	}

	prev := decimal.NewFromFloat(prevClose)
	pctD := decimal.NewFromFloat(pct)

	var raw, rounded decimal.Decimal
	switch side {
	case model.SideBuy:
		raw = prev.Mul(decimal.NewFromInt(1).Add(pctD))
		rounded = raw.RoundCeil(places)
	case model.SideSell:
		raw = prev.Mul(decimal.NewFromInt(1).Sub(pctD))
		rounded = raw.RoundFloor(places)
	default:
		return 0, fmt.Errorf("unsupported side %q", side)
	}

	price, _ := rounded.Float64()
	return price, nil
}
