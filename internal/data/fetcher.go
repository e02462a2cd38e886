package data

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"ashare-trader/internal/model"
	"ashare-trader/internal/service"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// QuoteClient 是日线行情源的最小能力接口，便于测试时注入假实现
type QuoteClient interface {
	DailyBars(ctx context.Context, code string, days int) ([]model.MarketBar, error)
}

// quoteBar 行情网关返回的日线 JSON 结构
type quoteBar struct {
	Date     string  `json:"date"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
	Turnover float64 `json:"turnover"`
}

type quoteResponse struct {
	Code    string     `json:"code"`
	Bars    []quoteBar `json:"bars"`
	ErrCode int        `json:"error_code"`
	ErrMsg  string     `json:"error_msg"`
}

// HTTPQuoteClient 通过行情网关的 REST 接口拉取日线
type HTTPQuoteClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPQuoteClient 创建行情客户端
func NewHTTPQuoteClient(baseURL string) *HTTPQuoteClient {
	return &HTTPQuoteClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// DailyBars 拉取指定标的最近 days 个交易日的日线
func (c *HTTPQuoteClient) DailyBars(ctx context.Context, code string, days int) ([]model.MarketBar, error) {
	endpoint := fmt.Sprintf("%s/daily?code=%s&days=%d", c.baseURL, url.QueryEscape(code), days)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote request for %s: %w", code, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote request for %s: HTTP %d", code, resp.StatusCode)
	}

	var payload quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode quote response for %s: %w", code, err)
	}
	if payload.ErrCode != 0 {
		return nil, fmt.Errorf("quote source error for %s: %d %s", code, payload.ErrCode, payload.ErrMsg)
	}

	bars := make([]model.MarketBar, 0, len(payload.Bars))
	for _, qb := range payload.Bars {
		bars = append(bars, model.MarketBar{
			Date:     qb.Date,
			Open:     qb.Open,
			High:     qb.High,
			Low:      qb.Low,
			Close:    qb.Close,
			Volume:   qb.Volume,
			Turnover: qb.Turnover,
			CHO:      math.NaN(),
			MACHO:    math.NaN(),
		})
	}
	return bars, nil
}

// Fetcher 在收盘后批量刷新股票池内所有标的的历史数据。
// 每个标的是独立的 CSV 资源，按有界并发拉取；单个标的失败
// 只记录不中断（次日复盘处理）。
type Fetcher struct {
	client  QuoteClient
	store   *MarketStore
	retry   service.RetryPolicy
	workers int
	days    int
}

// NewFetcher 创建收盘后行情刷新器
func NewFetcher(client QuoteClient, store *MarketStore, retry service.RetryPolicy, workers, days int) *Fetcher {
	if workers < 1 {
		workers = 1
	}
	return &Fetcher{client: client, store: store, retry: retry, workers: workers, days: days}
}

// RefreshAll 并发拉取并合并全部标的，返回拉取失败的代码列表
func (f *Fetcher) RefreshAll(ctx context.Context, codes []string) []string {
	var (
		mu     sync.Mutex
		failed []string
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)
	for _, code := range codes {
		code := code
		g.Go(func() error {
			if err := f.refreshOne(ctx, code); err != nil {
				service.Logger.Error("EOD fetch failed, skipping instrument",
					zap.String("code", code), zap.Error(err))
				mu.Lock()
				failed = append(failed, code)
				mu.Unlock()
			}
			return nil // 单标的失败不终止整批
		})
	}
	g.Wait()

	service.Logger.Info("EOD refresh finished",
		zap.Int("total", len(codes)), zap.Int("failed", len(failed)))
	return failed
}

func (f *Fetcher) refreshOne(ctx context.Context, code string) error {
	var bars []model.MarketBar
	err := f.retry.Call(ctx, "fetch "+code, func() error {
		var err error
		bars, err = f.client.DailyBars(ctx, code, f.days)
		return err
	})
	if err != nil {
		return err
	}
	added, err := f.store.Append(code, bars)
	if err != nil {
		return err
	}
	service.Logger.Debug("History refreshed",
		zap.String("code", code), zap.Int("fetched", len(bars)), zap.Int("added", added))
	return nil
}
