package executor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ashare-trader/internal/broker"
	"ashare-trader/internal/model"
	"ashare-trader/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type reconcilerFixture struct {
	session    *broker.MockSession
	batches    *BatchStore
	positions  *store.PositionStore
	reconciler *Reconciler
	tradesDir  string
	reportsDir string
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	f := &reconcilerFixture{
		session:    broker.NewMockSession(),
		batches:    NewBatchStore(t.TempDir()),
		positions:  newTestPositions(t),
		tradesDir:  t.TempDir(),
		reportsDir: t.TempDir(),
	}
	f.reconciler = NewReconciler(f.session, f.batches, f.positions,
		fastRetry(1), fastRetry(2), f.tradesDir, f.reportsDir, zap.NewNop())
	return f
}

// submit 通过 Mock 会话真实报单，让柜台侧持有对应的订单记录
func (f *reconcilerFixture) submit(t *testing.T, tradeDate string, orders []model.PendingOrder) {
	t.Helper()
	require.NoError(t, f.session.Login(context.Background()))
	for i := range orders {
		resp, err := f.session.PlaceOrder(context.Background(), broker.OrderRequest{
			Code:   orders[i].Code,
			Side:   orders[i].Side,
			Price:  orders[i].LimitPrice,
			Volume: orders[i].Volume,
		})
		require.NoError(t, err)
		orders[i].RequestID = resp.RequestID
	}
	require.NoError(t, f.session.Logout(context.Background()))
	require.NoError(t, f.batches.Save(tradeDate, orders))
}

func TestReconcileBuyFullFill(t *testing.T) {
	f := newReconcilerFixture(t)
	f.submit(t, "2026-08-25", []model.PendingOrder{
		{Code: "600519.SH", Side: model.SideBuy, Volume: 100, LimitPrice: 11.00, TradeDate: "2026-08-25"},
	})

	summary, err := f.reconciler.Reconcile(context.Background(), "2026-08-25")
	require.NoError(t, err)
	require.Len(t, summary.Records, 1)
	assert.Equal(t, model.TradeFilled, summary.Records[0].Status)

	pos, err := f.positions.Get("600519.SH")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, model.StatusHolding, pos.Status)
	assert.Equal(t, int64(100), pos.HoldVolume)
	assert.InDelta(t, 11.00, pos.LastBuyPrice, 1e-9)
}

// 买入部分成交 40/100：持仓记 40，状态 Holding 而非 Flat
func TestReconcileBuyPartialFill(t *testing.T) {
	f := newReconcilerFixture(t)
	f.session.Outcomes["600519.SH"] = broker.MockOutcome{
		Status: broker.OrderPartFilled, TradedPrice: 10.98, TradedVolume: 40,
	}
	f.submit(t, "2026-08-25", []model.PendingOrder{
		{Code: "600519.SH", Side: model.SideBuy, Volume: 100, LimitPrice: 11.00, TradeDate: "2026-08-25"},
	})

	_, err := f.reconciler.Reconcile(context.Background(), "2026-08-25")
	require.NoError(t, err)

	pos, err := f.positions.Get("600519.SH")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, model.StatusHolding, pos.Status)
	assert.Equal(t, int64(40), pos.HoldVolume)
}

// 卖出部分成交 40/100：持仓减到 60，仍为 Holding
func TestReconcileSellPartialFill(t *testing.T) {
	f := newReconcilerFixture(t)
	require.NoError(t, f.positions.Upsert(&model.Position{
		Code: "600519.SH", Status: model.StatusPendingSell, HoldVolume: 100,
	}))
	f.session.Outcomes["600519.SH"] = broker.MockOutcome{
		Status: broker.OrderPartFilled, TradedPrice: 9.05, TradedVolume: 40,
	}
	f.submit(t, "2026-08-25", []model.PendingOrder{
		{Code: "600519.SH", Side: model.SideSell, Volume: 100, LimitPrice: 9.00, TradeDate: "2026-08-25"},
	})

	summary, err := f.reconciler.Reconcile(context.Background(), "2026-08-25")
	require.NoError(t, err)
	assert.Equal(t, model.TradePartiallyFilled, summary.Records[0].Status)

	pos, err := f.positions.Get("600519.SH")
	require.NoError(t, err)
	assert.Equal(t, model.StatusHolding, pos.Status)
	assert.Equal(t, int64(60), pos.HoldVolume)
	assert.Empty(t, pos.PendingSellSince)
}

func TestReconcileSellFullFillGoesFlat(t *testing.T) {
	f := newReconcilerFixture(t)
	require.NoError(t, f.positions.Upsert(&model.Position{
		Code: "600519.SH", Status: model.StatusPendingSell, HoldVolume: 100,
		PendingSellSince: "2026-08-22",
	}))
	f.submit(t, "2026-08-25", []model.PendingOrder{
		{Code: "600519.SH", Side: model.SideSell, Volume: 100, LimitPrice: 9.00, TradeDate: "2026-08-25"},
	})

	_, err := f.reconciler.Reconcile(context.Background(), "2026-08-25")
	require.NoError(t, err)

	pos, err := f.positions.Get("600519.SH")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFlat, pos.Status)
	assert.Equal(t, int64(0), pos.HoldVolume)
	assert.Empty(t, pos.PendingSellSince)
}

// 未成交订单不触碰持仓
func TestReconcileUnfilledLeavesPositionAlone(t *testing.T) {
	f := newReconcilerFixture(t)
	f.session.Outcomes["600519.SH"] = broker.MockOutcome{Status: broker.OrderUnfilled}
	f.submit(t, "2026-08-25", []model.PendingOrder{
		{Code: "600519.SH", Side: model.SideBuy, Volume: 100, LimitPrice: 11.00, TradeDate: "2026-08-25"},
	})

	summary, err := f.reconciler.Reconcile(context.Background(), "2026-08-25")
	require.NoError(t, err)
	assert.Equal(t, model.TradeUnfilled, summary.Records[0].Status)

	pos, err := f.positions.Get("600519.SH")
	require.NoError(t, err)
	assert.Nil(t, pos)
}

// 未报出的订单（无 request_id）直接归 Rejected
func TestReconcileNeverSubmittedIsRejected(t *testing.T) {
	f := newReconcilerFixture(t)
	require.NoError(t, f.batches.Save("2026-08-25", []model.PendingOrder{
		{Code: "600519.SH", Side: model.SideBuy, Volume: 100, LimitPrice: 11.00,
			TradeDate: "2026-08-25", Notes: "venue rejected order: code=1007"},
	}))

	summary, err := f.reconciler.Reconcile(context.Background(), "2026-08-25")
	require.NoError(t, err)
	assert.Equal(t, model.TradeRejected, summary.Records[0].Status)
	assert.Equal(t, 0, summary.ManualReview)
}

// 柜台查无此单：重试耗尽后记 Unfilled 并列入人工复核
func TestReconcileVenueNotFoundFlagsManualReview(t *testing.T) {
	f := newReconcilerFixture(t)
	f.session.Outcomes["600519.SH"] = broker.MockOutcome{NotFound: true}
	f.submit(t, "2026-08-25", []model.PendingOrder{
		{Code: "600519.SH", Side: model.SideBuy, Volume: 100, LimitPrice: 11.00, TradeDate: "2026-08-25"},
	})

	summary, err := f.reconciler.Reconcile(context.Background(), "2026-08-25")
	require.NoError(t, err)
	require.Len(t, summary.Records, 1)
	assert.Equal(t, model.TradeUnfilled, summary.Records[0].Status)
	assert.True(t, summary.Records[0].ManualReview)
	assert.Equal(t, 1, summary.ManualReview)

	raw, err := os.ReadFile(filepath.Join(f.reportsDir, "2026-08-25_reconcile.md"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Manual review")
	assert.Contains(t, string(raw), "600519.SH")
}

// 重复对账是幂等的：记录重建，持仓增量不二次施加
func TestReconcileIdempotent(t *testing.T) {
	f := newReconcilerFixture(t)
	require.NoError(t, f.positions.Upsert(&model.Position{
		Code: "600519.SH", Status: model.StatusHolding, HoldVolume: 100,
	}))
	f.session.Outcomes["600519.SH"] = broker.MockOutcome{
		Status: broker.OrderPartFilled, TradedPrice: 11.00, TradedVolume: 50,
	}
	f.submit(t, "2026-08-25", []model.PendingOrder{
		{Code: "600519.SH", Side: model.SideBuy, Volume: 100, LimitPrice: 11.00, TradeDate: "2026-08-25"},
	})

	_, err := f.reconciler.Reconcile(context.Background(), "2026-08-25")
	require.NoError(t, err)
	summary, err := f.reconciler.Reconcile(context.Background(), "2026-08-25")
	require.NoError(t, err)

	// 第二次运行仍能重建完整记录
	require.Len(t, summary.Records, 1)
	assert.Equal(t, model.TradePartiallyFilled, summary.Records[0].Status)

	pos, err := f.positions.Get("600519.SH")
	require.NoError(t, err)
	assert.Equal(t, int64(150), pos.HoldVolume, "partial buy applied exactly once")
}

// 成交明细按量加权得到成交均价
func TestReconcileUsesTradeDetailPrice(t *testing.T) {
	f := newReconcilerFixture(t)
	f.session.Outcomes["600519.SH"] = broker.MockOutcome{
		Status: broker.OrderFilled, TradedPrice: 10.95, TradedVolume: 100,
	}
	f.submit(t, "2026-08-25", []model.PendingOrder{
		{Code: "600519.SH", Side: model.SideBuy, Volume: 100, LimitPrice: 11.00, TradeDate: "2026-08-25"},
	})

	summary, err := f.reconciler.Reconcile(context.Background(), "2026-08-25")
	require.NoError(t, err)
	assert.InDelta(t, 10.95, summary.Records[0].TradedPrice, 1e-9)
}

func TestReconcileEmptyBatchStillWritesReports(t *testing.T) {
	f := newReconcilerFixture(t)

	summary, err := f.reconciler.Reconcile(context.Background(), "2026-08-25")
	require.NoError(t, err)
	assert.Empty(t, summary.Records)
	assert.Equal(t, 0, f.session.LoginCalls)

	raw, err := os.ReadFile(filepath.Join(f.tradesDir, "2026-08-25.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	assert.Len(t, lines, 1) // 仅表头
}

func TestReconcileWritesTradeCSV(t *testing.T) {
	f := newReconcilerFixture(t)
	f.submit(t, "2026-08-25", []model.PendingOrder{
		{Code: "600519.SH", Side: model.SideBuy, Volume: 100, LimitPrice: 11.00, TradeDate: "2026-08-25"},
	})

	_, err := f.reconciler.Reconcile(context.Background(), "2026-08-25")
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(f.tradesDir, "2026-08-25.csv"))
	require.NoError(t, err)
	content := string(raw)
	assert.Contains(t, content, "code,side,status")
	assert.Contains(t, content, "600519.SH,Buy,Filled")
}
