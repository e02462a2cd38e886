package data

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"ashare-trader/internal/model"
	"ashare-trader/internal/service"

	"go.uber.org/zap"
)

var csvHeader = []string{"date", "open", "high", "low", "close", "volume", "turnover"}

// MarketStore 以每标的一份 CSV 的形式保存日线序列。
// 追加写入按交易日去重，整体排序后临时文件+rename 原子落盘。
type MarketStore struct {
	dir string
}

// NewMarketStore 创建行情存储，dir 为个股 CSV 目录
func NewMarketStore(dir string) *MarketStore {
	return &MarketStore{dir: dir}
}

func (s *MarketStore) path(code string) string {
	return filepath.Join(s.dir, code+".csv")
}

// Load 读取某标的的全部历史，按日期升序返回。文件不存在时返回空序列。
func (s *MarketStore) Load(code string) ([]model.MarketBar, error) {
	fh, err := os.Open(s.path(code))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open history for %s: %w", code, err)
	}
	defer fh.Close()

	records, err := csv.NewReader(fh).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read history for %s: %w", code, err)
	}

	bars := make([]model.MarketBar, 0, len(records))
	for i, rec := range records {
		if i == 0 && len(rec) > 0 && rec[0] == "date" {
			continue
		}
		bar, err := parseBar(rec)
		if err != nil {
			return nil, fmt.Errorf("parse %s row %d: %w", code, i+1, err)
		}
		bars = append(bars, bar)
	}
	sortBars(bars)
	return bars, nil
}

// Append 合并新 bar 到已有序列：同一交易日以新数据为准，其余保持不变。
// 返回合并后新增的行数。
func (s *MarketStore) Append(code string, incoming []model.MarketBar) (int, error) {
	existing, err := s.Load(code)
	if err != nil {
		return 0, err
	}

	byDate := make(map[string]model.MarketBar, len(existing)+len(incoming))
	for _, b := range existing {
		byDate[b.Date] = b
	}
	added := 0
	for _, b := range incoming {
		if b.Date == "" {
			continue
		}
		if _, ok := byDate[b.Date]; !ok {
			added++
		}
		byDate[b.Date] = b
	}

	merged := make([]model.MarketBar, 0, len(byDate))
	for _, b := range byDate {
		merged = append(merged, b)
	}
	sortBars(merged)

	if err := s.write(code, merged); err != nil {
		return 0, err
	}
	service.Logger.Debug("History saved",
		zap.String("code", code), zap.Int("rows", len(merged)), zap.Int("added", added))
	return added, nil
}

// LastBar 返回最新一根 bar，不存在时 ok=false
func (s *MarketStore) LastBar(code string) (model.MarketBar, bool, error) {
	bars, err := s.Load(code)
	if err != nil || len(bars) == 0 {
		return model.MarketBar{}, false, err
	}
	return bars[len(bars)-1], true, nil
}

// PrevClose 返回 tradeDate 之前（不含当日）最近一根 bar 的收盘价，
// 用于计算该交易日的涨跌停限价。
func (s *MarketStore) PrevClose(code, tradeDate string) (float64, error) {
	bars, err := s.Load(code)
	if err != nil {
		return 0, err
	}
	for i := len(bars) - 1; i >= 0; i-- {
		if bars[i].Date < tradeDate {
			return bars[i].Close, nil
		}
	}
	return 0, fmt.Errorf("no close before %s for %s: %w", tradeDate, code, model.ErrInsufficientHistory)
}

func (s *MarketStore) write(code string, bars []model.MarketBar) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, b := range bars {
		rec := []string{
			b.Date,
			formatPrice(b.Open),
			formatPrice(b.High),
			formatPrice(b.Low),
			formatPrice(b.Close),
			strconv.FormatFloat(b.Volume, 'f', -1, 64),
			strconv.FormatFloat(b.Turnover, 'f', -1, 64),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return service.WriteFileAtomic(s.path(code), buf.Bytes())
}

func parseBar(rec []string) (model.MarketBar, error) {
	if len(rec) < 7 {
		return model.MarketBar{}, fmt.Errorf("expected 7 columns, got %d", len(rec))
	}
	vals := make([]float64, 6)
	for i := 0; i < 6; i++ {
		v, err := strconv.ParseFloat(rec[i+1], 64)
		if err != nil {
			return model.MarketBar{}, err
		}
		vals[i] = v
	}
	return model.MarketBar{
		Date:     rec[0],
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
		Turnover: vals[5],
		CHO:      math.NaN(),
		MACHO:    math.NaN(),
	}, nil
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func sortBars(bars []model.MarketBar) {
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date < bars[j].Date })
}
