package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ashare-trader/internal/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{}

// fakeGateway 起一个本地 WebSocket 网关，按 op 路由应答
type fakeGateway struct {
	srv     *httptest.Server
	handler func(req gatewayRequest) gatewayResponse
}

func newFakeGateway(t *testing.T, handler func(req gatewayRequest) gatewayResponse) *fakeGateway {
	t.Helper()
	g := &fakeGateway{handler: handler}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req gatewayRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			resp := g.handler(req)
			resp.ID = req.ID
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) url() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

func okData(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func newSession(t *testing.T, g *fakeGateway) *GatewaySession {
	cfg := testBrokerConfig()
	cfg.GatewayURL = g.url()
	return NewGatewaySession(cfg, zap.NewNop())
}

func TestGatewayLoginAndLogout(t *testing.T) {
	var loginReq loginParams
	g := newFakeGateway(t, func(req gatewayRequest) gatewayResponse {
		switch req.Op {
		case "login":
			require.NoError(t, json.Unmarshal(req.Params, &loginReq))
			return gatewayResponse{Data: okData(t, loginData{LogonID: "L-77"})}
		case "logout":
			return gatewayResponse{}
		}
		return gatewayResponse{ErrorCode: -1, ErrorMsg: "unexpected op " + req.Op}
	})
	s := newSession(t, g)

	require.NoError(t, s.Login(context.Background()))
	assert.Equal(t, "1001", loginReq.BrokerID)
	assert.Equal(t, "test-account", loginReq.Account)
	require.NoError(t, s.Logout(context.Background()))
}

func TestGatewayLoginRejected(t *testing.T) {
	g := newFakeGateway(t, func(req gatewayRequest) gatewayResponse {
		return gatewayResponse{ErrorCode: 2006, ErrorMsg: "bad password"}
	})
	s := newSession(t, g)

	err := s.Login(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrLoginFailed)
	assert.Contains(t, err.Error(), "bad password")
}

func TestGatewayLoginDialFailure(t *testing.T) {
	cfg := testBrokerConfig()
	cfg.GatewayURL = "ws://127.0.0.1:1/nowhere"
	s := NewGatewaySession(cfg, zap.NewNop())

	err := s.Login(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, model.ErrLoginFailed) // 连接失败不是登录被拒
}

func TestGatewayPlaceOrder(t *testing.T) {
	var orderReq orderParams
	g := newFakeGateway(t, func(req gatewayRequest) gatewayResponse {
		switch req.Op {
		case "login":
			return gatewayResponse{Data: okData(t, loginData{LogonID: "L-77"})}
		case "order":
			require.NoError(t, json.Unmarshal(req.Params, &orderReq))
			return gatewayResponse{Data: okData(t, orderData{RequestID: "REQ-9"})}
		}
		return gatewayResponse{ErrorCode: -1}
	})
	s := newSession(t, g)
	require.NoError(t, s.Login(context.Background()))

	resp, err := s.PlaceOrder(context.Background(), OrderRequest{
		Code: "600519.SH", Side: model.SideBuy, Price: 11.00, Volume: 100, ClientRef: "ref-1",
	})
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, "REQ-9", resp.RequestID)

	assert.Equal(t, "LMT", orderReq.OrderType)
	assert.Equal(t, "L-77", orderReq.LogonID)
	assert.Equal(t, "ref-1", orderReq.ClientRef)
}

// 柜台拒单带错误码正常返回，不算调用错误
func TestGatewayPlaceOrderVenueReject(t *testing.T) {
	g := newFakeGateway(t, func(req gatewayRequest) gatewayResponse {
		if req.Op == "login" {
			return gatewayResponse{Data: okData(t, loginData{LogonID: "L-77"})}
		}
		return gatewayResponse{ErrorCode: 1007, ErrorMsg: "insufficient funds"}
	})
	s := newSession(t, g)
	require.NoError(t, s.Login(context.Background()))

	resp, err := s.PlaceOrder(context.Background(), OrderRequest{
		Code: "600519.SH", Side: model.SideBuy, Price: 11.00, Volume: 100,
	})
	require.NoError(t, err)
	assert.False(t, resp.OK())
	assert.Equal(t, 1007, resp.ErrorCode)
	assert.Equal(t, "insufficient funds", resp.ErrorMsg)
}

func TestGatewayQueryOrder(t *testing.T) {
	g := newFakeGateway(t, func(req gatewayRequest) gatewayResponse {
		switch req.Op {
		case "login":
			return gatewayResponse{Data: okData(t, loginData{LogonID: "L-77"})}
		case "query_order":
			return gatewayResponse{Data: okData(t, orderStatusData{
				RequestID: "REQ-9", Status: OrderPartFilled,
				OrderPrice: 11.00, TradedPrice: 10.98, TradedVolume: 40, OrderNumber: "N123",
			})}
		}
		return gatewayResponse{ErrorCode: -1}
	})
	s := newSession(t, g)
	require.NoError(t, s.Login(context.Background()))

	status, err := s.QueryOrder(context.Background(), "REQ-9")
	require.NoError(t, err)
	assert.Equal(t, OrderPartFilled, status.Status)
	assert.Equal(t, int64(40), status.TradedVolume)
	assert.InDelta(t, 10.98, status.TradedPrice, 1e-9)
}

func TestGatewayQueryTrades(t *testing.T) {
	g := newFakeGateway(t, func(req gatewayRequest) gatewayResponse {
		switch req.Op {
		case "login":
			return gatewayResponse{Data: okData(t, loginData{LogonID: "L-77"})}
		case "query_trade":
			return gatewayResponse{Data: okData(t, []tradeData{
				{Code: "600519.SH", Side: "Buy", Price: 10.98, Volume: 40, TradeTime: "09:31:05"},
				{Code: "600519.SH", Side: "Buy", Price: 11.00, Volume: 60, TradeTime: "09:45:12"},
			})}
		}
		return gatewayResponse{ErrorCode: -1}
	})
	s := newSession(t, g)
	require.NoError(t, s.Login(context.Background()))

	trades, err := s.QueryTrades(context.Background(), "600519.SH")
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, model.SideBuy, trades[0].Side)
	assert.Equal(t, int64(60), trades[1].Volume)
}

func TestGatewayCallBeforeLogin(t *testing.T) {
	s := NewGatewaySession(testBrokerConfig(), zap.NewNop())
	_, err := s.QueryOrder(context.Background(), "REQ-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestGatewayLogoutWithoutLoginIsNoOp(t *testing.T) {
	s := NewGatewaySession(testBrokerConfig(), zap.NewNop())
	assert.NoError(t, s.Logout(context.Background()))
}
