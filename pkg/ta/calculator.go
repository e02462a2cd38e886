package ta

import (
	"fmt"
	"math"

	"ashare-trader/internal/model"

	"github.com/markcheno/go-talib"
)

// Calculator 负责 CHO/MACHO 指标计算。
//
//	MID_t = MID_{t-1} + VOLUME_t * (2*P_t - HIGH_t - LOW_t) / (HIGH_t + LOW_t)
//	CHO_t = SMA(MID, short)_t - SMA(MID, long)_t
//	MACHO_t = SMA(CHO, smooth)_t
//
// P_t 为代表性价格（VWAP，退回收盘价）。窗口未满的 bar 指标为 NaN，
// 信号评估阶段会跳过这些 bar。
type Calculator struct {
	ShortWindow    int
	LongWindow     int
	SmoothWindow   int
	MinHistoryDays int
}

// NewCalculator 按策略配置构造指标计算器
func NewCalculator(short, long, smooth, minHistoryDays int) *Calculator {
	return &Calculator{
		ShortWindow:    short,
		LongWindow:     long,
		SmoothWindow:   smooth,
		MinHistoryDays: minHistoryDays,
	}
}

// Enrich 就地回填 bars 的 CHO/MACHO 列并返回同一切片。
// 历史长度不足 MinHistoryDays 时返回 ErrInsufficientHistory，
// 调用方应跳过该标的、继续处理其余标的。
func (c *Calculator) Enrich(code string, bars []model.MarketBar) ([]model.MarketBar, error) {
	if len(bars) < c.MinHistoryDays {
		return nil, fmt.Errorf("%s has %d bars, need %d: %w",
			code, len(bars), c.MinHistoryDays, model.ErrInsufficientHistory)
	}

	mid := MIDSeries(bars)

	// SMA 对齐：talib 在窗口未满的前缀位置输出 0，这里统一改写为 NaN，
	// 避免 0 被误当作有效指标值。
	smaShort := talib.Sma(mid, c.ShortWindow)
	smaLong := talib.Sma(mid, c.LongWindow)

	choStart := c.LongWindow - 1 // CHO 自长窗口满之日起有效
	for i := range bars {
		bars[i].CHO = math.NaN()
		bars[i].MACHO = math.NaN()
		if i >= choStart {
			bars[i].CHO = smaShort[i] - smaLong[i]
		}
	}

	// MACHO 在有效的 CHO 子序列上再做一次平滑
	choValid := make([]float64, 0, len(bars)-choStart)
	for i := choStart; i < len(bars); i++ {
		choValid = append(choValid, bars[i].CHO)
	}
	if len(choValid) >= c.SmoothWindow {
		macho := talib.Sma(choValid, c.SmoothWindow)
		for j := c.SmoothWindow - 1; j < len(macho); j++ {
			bars[choStart+j].MACHO = macho[j]
		}
	}

	return bars, nil
}

// MIDSeries 计算量价累积序列 MID。HIGH+LOW 为 0 的 bar（停牌等异常数据）
// 当日贡献记为 0。
func MIDSeries(bars []model.MarketBar) []float64 {
	mid := make([]float64, len(bars))
	acc := 0.0
	for i, b := range bars {
		rangeSum := b.High + b.Low
		if rangeSum != 0 {
			p := b.TypicalPrice()
			acc += b.Volume * (2*p - b.High - b.Low) / rangeSum
		}
		mid[i] = acc
	}
	return mid
}
