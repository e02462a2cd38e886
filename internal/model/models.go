package model

import "math"

// MarketBar 代表一根日线行情（按交易日去重，追加写入）
type MarketBar struct {
	Date     string  // 交易日，格式 "2006-01-02"
	Open     float64 // 开盘价
	High     float64 // 最高价
	Low      float64 // 最低价
	Close    float64 // 收盘价
	Volume   float64 // 成交量（股）
	Turnover float64 // 成交额（元）

	// 指标列，由 pkg/ta 回填；NaN 表示该 bar 尚未满足计算窗口
	CHO   float64
	MACHO float64
}

// HasCHO 判断该 bar 是否已有有效的 CHO 指标值
func (b MarketBar) HasCHO() bool {
	return !math.IsNaN(b.CHO)
}

// TypicalPrice 返回代表性价格：有成交时用 VWAP（成交额/成交量），否则退回收盘价
func (b MarketBar) TypicalPrice() float64 {
	if b.Volume > 0 && b.Turnover > 0 {
		return b.Turnover / b.Volume
	}
	return b.Close
}

// Category 标的板块分类，决定涨跌停比例
type Category string

const (
	CategoryNormal Category = "normal" // 主板
	CategoryST     Category = "st"     // ST/风险警示
	CategoryGrowth Category = "growth" // 创业板
	CategoryStar   Category = "star"   // 科创板
	CategoryBJ     Category = "bj"     // 北交所
)

// Instrument 代表股票池中一只已解析的标的
type Instrument struct {
	Code     string   // 形如 "600519.SH"
	Name     string   // 证券简称，可为空
	Category Category // 板块分类
	TickSize float64  // 最小报价单位，0.01 或 0.001
}
