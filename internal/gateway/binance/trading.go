package binance

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"vela/internal/errs"
	"vela/internal/gateway/exchange"
)

// Trading implements exchange.Gateway against the binance futures REST API.
// Symbol rules are cached after the first exchange-info fetch; everything
// else is a straight call with taxonomy classification.
type Trading struct {
	client *futures.Client

	rulesMu sync.RWMutex
	rules   map[string]exchange.SymbolRules
}

func NewTrading(cfg Config) *Trading {
	final := cfg.withDefaults()
	client := futures.NewClient(final.APIKey, final.APISecret)
	client.BaseURL = final.RESTBaseURL
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Trading{
		client: client,
		rules:  make(map[string]exchange.SymbolRules),
	}
}

func (t *Trading) Ticker(ctx context.Context, symbol string) (exchange.Ticker, error) {
	stats, err := t.client.NewListPriceChangeStatsService().Symbol(strings.ToUpper(symbol)).Do(ctx)
	if err != nil {
		return exchange.Ticker{}, classify(err)
	}
	if len(stats) == 0 || stats[0] == nil {
		return exchange.Ticker{}, errs.New(errs.KindTransient, "empty ticker response for %s", symbol)
	}
	st := stats[0]
	price := parseFloat(st.LastPrice)
	if price <= 0 {
		return exchange.Ticker{}, errs.New(errs.KindTransient, "ticker %s carries no price", symbol)
	}
	return exchange.Ticker{
		Symbol:    strings.ToUpper(symbol),
		Price:     price,
		Volume:    parseFloat(st.Volume),
		UpdatedAt: time.Now(),
	}, nil
}

func (t *Trading) Balance(ctx context.Context) (exchange.Balance, error) {
	balances, err := t.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return exchange.Balance{}, classify(err)
	}
	for _, b := range balances {
		if b == nil || b.Asset != "USDT" {
			continue
		}
		total := parseFloat(b.Balance)
		free := parseFloat(b.AvailableBalance)
		return exchange.Balance{
			Asset:     b.Asset,
			Free:      free,
			Used:      total - free,
			UpdatedAt: time.Now(),
		}, nil
	}
	return exchange.Balance{}, errs.New(errs.KindTransient, "no USDT balance in account response")
}

func (t *Trading) SymbolRules(ctx context.Context, symbol string) (exchange.SymbolRules, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	t.rulesMu.RLock()
	cached, ok := t.rules[symbol]
	t.rulesMu.RUnlock()
	if ok {
		return cached, nil
	}
	info, err := t.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return exchange.SymbolRules{}, classify(err)
	}
	t.rulesMu.Lock()
	defer t.rulesMu.Unlock()
	for i := range info.Symbols {
		sym := &info.Symbols[i]
		rules := exchange.SymbolRules{Symbol: sym.Symbol}
		if f := sym.LotSizeFilter(); f != nil {
			rules.StepSize = parseFloat(f.StepSize)
		}
		if f := sym.PriceFilter(); f != nil {
			rules.TickSize = parseFloat(f.TickSize)
		}
		if f := sym.MinNotionalFilter(); f != nil {
			rules.MinNotional = parseFloat(f.Notional)
		}
		t.rules[sym.Symbol] = rules
	}
	rules, ok := t.rules[symbol]
	if !ok {
		return exchange.SymbolRules{}, errs.New(errs.KindFatal, "symbol %s is not tradable on this venue", symbol)
	}
	return rules, nil
}

func (t *Trading) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := t.client.NewChangeLeverageService().
		Symbol(strings.ToUpper(symbol)).
		Leverage(leverage).
		Do(ctx)
	return classify(err)
}

func (t *Trading) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	if req.Type != exchange.OrderTypeMarket {
		return exchange.OrderAck{}, errs.New(errs.KindExchangeRejected, "PlaceOrder only accepts market orders, got %s", req.Type)
	}
	svc := t.client.NewCreateOrderService().
		Symbol(strings.ToUpper(req.Symbol)).
		Side(orderSide(req)).
		Type(futures.OrderTypeMarket).
		Quantity(formatQty(req.Quantity)).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return exchange.OrderAck{}, classify(err)
	}
	return convertAck(resp), nil
}

func (t *Trading) PlaceStopOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	if req.StopPrice <= 0 {
		return exchange.OrderAck{}, errs.New(errs.KindExchangeRejected, "stop order for %s requires a stop price", req.Symbol)
	}
	svc := t.client.NewCreateOrderService().
		Symbol(strings.ToUpper(req.Symbol)).
		Side(orderSide(req)).
		Type(futures.OrderTypeStopMarket).
		StopPrice(formatQty(req.StopPrice)).
		Quantity(formatQty(req.Quantity)).
		ReduceOnly(true).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return exchange.OrderAck{}, classify(err)
	}
	return convertAck(resp), nil
}

func (t *Trading) OrderStatus(ctx context.Context, symbol, clientOrderID string) (exchange.OrderLookup, error) {
	order, err := t.client.NewGetOrderService().
		Symbol(strings.ToUpper(symbol)).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		if isOrderNotFound(err) {
			return exchange.OrderLookup{Found: false}, nil
		}
		return exchange.OrderLookup{}, classify(err)
	}
	return exchange.OrderLookup{
		Found:       true,
		Status:      string(order.Status),
		AvgPrice:    parseFloat(order.AvgPrice),
		ExecutedQty: parseFloat(order.ExecutedQuantity),
	}, nil
}

// orderSide maps the position side to the wire side, inverted for
// reduce-only (closing) orders.
func orderSide(req exchange.OrderRequest) futures.SideType {
	long := req.Side == exchange.SideLong
	if req.ReduceOnly {
		long = !long
	}
	if long {
		return futures.SideTypeBuy
	}
	return futures.SideTypeSell
}

func convertAck(resp *futures.CreateOrderResponse) exchange.OrderAck {
	if resp == nil {
		return exchange.OrderAck{}
	}
	return exchange.OrderAck{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Status:        string(resp.Status),
		AvgPrice:      parseFloat(resp.AvgPrice),
		ExecutedQty:   parseFloat(resp.ExecutedQuantity),
	}
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
