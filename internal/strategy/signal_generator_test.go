package strategy

import (
	"fmt"
	"math"
	"testing"

	"ashare-trader/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func barsWithCHO(cho ...float64) []model.MarketBar {
	bars := make([]model.MarketBar, len(cho))
	for i, v := range cho {
		bars[i] = model.MarketBar{
			Date:  dateFor(i),
			Close: 10 + float64(i),
			CHO:   v,
			MACHO: math.NaN(),
		}
	}
	return bars
}

func dateFor(i int) string {
	return fmt.Sprintf("2026-03-%02d", i+1)
}

func TestEvaluateEmitsBuyFromFlat(t *testing.T) {
	sg := NewSignalGenerator(zap.NewNop())

	bars := barsWithCHO(1, 2)
	signals, pos := sg.Evaluate("600519.SH", bars, nil)

	require.Len(t, signals, 1)
	assert.Equal(t, model.SideBuy, signals[0].Side)
	assert.Equal(t, bars[1].Close, signals[0].PriceHint)
	assert.Equal(t, bars[1].Date, signals[0].SignalTime)

	assert.Equal(t, model.StatusHolding, pos.Status)
	// 试探性迁移不碰持仓量，成交量由对账确定
	assert.Zero(t, pos.HoldVolume)
}

func TestEvaluateMarksPendingSellThenConfirms(t *testing.T) {
	sg := NewSignalGenerator(zap.NewNop())
	pos := &model.Position{Code: "600519.SH", Status: model.StatusHolding, HoldVolume: 100}

	// 第一天回落：只标记，不发单
	signals, pos := sg.Evaluate("600519.SH", barsWithCHO(3, 2), pos)
	assert.Empty(t, signals)
	assert.Equal(t, model.StatusPendingSell, pos.Status)
	assert.NotEmpty(t, pos.PendingSellSince)

	// 次日继续回落：确认卖出
	signals, pos = sg.Evaluate("600519.SH", barsWithCHO(2, 1), pos)
	require.Len(t, signals, 1)
	assert.Equal(t, model.SideSell, signals[0].Side)
	assert.Equal(t, model.StatusFlat, pos.Status)
	assert.Empty(t, pos.PendingSellSince)
}

func TestEvaluateReversalCancelsPendingSell(t *testing.T) {
	sg := NewSignalGenerator(zap.NewNop())
	pos := &model.Position{
		Code:             "600519.SH",
		Status:           model.StatusPendingSell,
		HoldVolume:       100,
		PendingSellSince: "2026-03-01",
	}

	signals, pos := sg.Evaluate("600519.SH", barsWithCHO(2, 3), pos)
	assert.Empty(t, signals)
	assert.Equal(t, model.StatusHolding, pos.Status)
	assert.Empty(t, pos.PendingSellSince)
}

// 指标有效的 bar 不足两根：不迁移也不报错
func TestEvaluateWithoutEnoughIndicators(t *testing.T) {
	sg := NewSignalGenerator(zap.NewNop())

	bars := barsWithCHO(math.NaN(), math.NaN(), 1)
	signals, pos := sg.Evaluate("600519.SH", bars, nil)
	assert.Empty(t, signals)
	assert.Equal(t, model.StatusFlat, pos.Status)
}

// NaN 前缀被跳过，评估用的是最后两根有效 bar
func TestEvaluateSkipsNaNPrefix(t *testing.T) {
	sg := NewSignalGenerator(zap.NewNop())

	bars := barsWithCHO(math.NaN(), 1, 2)
	signals, _ := sg.Evaluate("600519.SH", bars, nil)
	require.Len(t, signals, 1)
	assert.Equal(t, model.SideBuy, signals[0].Side)
}
