package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"intradesk/pkg/types"
)

func drainOrders(b *Broker) []types.OrderUpdate {
	var out []types.OrderUpdate
	for {
		select {
		case u := <-b.OrderUpdates():
			out = append(out, u)
		default:
			return out
		}
	}
}

func TestMarketOrderFillsImmediately(t *testing.T) {
	t.Parallel()

	b := New(100000, nil)
	b.SetPrice("INFY", 1500)
	drainOrders(b)

	id, err := b.PlaceOrder(context.Background(), types.OrderIntent{
		Symbol: "INFY", Direction: types.Long, Quantity: 10,
		Kind: types.OrderMarket, ClientTag: "t1-entry",
	})
	if err != nil {
		t.Fatal(err)
	}

	updates := drainOrders(b)
	if len(updates) != 1 || updates[0].State != types.OrderStateFilled {
		t.Fatalf("updates = %+v, want one FILLED", updates)
	}
	if updates[0].OrderID != id || updates[0].AvgPrice != 1500 || updates[0].FilledQty != 10 {
		t.Errorf("fill = %+v", updates[0])
	}

	positions, _ := b.Positions(context.Background())
	if len(positions) != 1 || positions[0].NetQty != 10 || positions[0].AvgPrice != 1500 {
		t.Errorf("positions = %+v", positions)
	}
}

func TestLimitOrderRestsUntilCrossed(t *testing.T) {
	t.Parallel()

	b := New(100000, nil)
	b.SetPrice("TCS", 3500)
	drainOrders(b)

	id, err := b.PlaceOrder(context.Background(), types.OrderIntent{
		Symbol: "TCS", Direction: types.Long, Quantity: 5,
		Kind: types.OrderLimit, LimitPrice: 3490, ClientTag: "t2-entry",
	})
	if err != nil {
		t.Fatal(err)
	}
	updates := drainOrders(b)
	if len(updates) != 1 || updates[0].State != types.OrderStateOpen {
		t.Fatalf("resting limit should report OPEN, got %+v", updates)
	}

	b.SetPrice("TCS", 3495) // still above limit
	if got := drainOrders(b); len(got) != 0 {
		t.Fatalf("limit filled early: %+v", got)
	}

	b.SetPrice("TCS", 3488) // crosses
	updates = drainOrders(b)
	if len(updates) != 1 || updates[0].State != types.OrderStateFilled {
		t.Fatalf("crossed limit: %+v", updates)
	}
	if updates[0].AvgPrice != 3490 {
		t.Errorf("limit fill at %.2f, want limit price 3490", updates[0].AvgPrice)
	}
	if _, err := b.Order(context.Background(), id); !errors.Is(err, types.ErrOrderNotFound) {
		t.Error("filled order still queryable as resting")
	}
}

func TestStopOrderProtectsLong(t *testing.T) {
	t.Parallel()

	b := New(100000, nil)
	b.SetPrice("SBIN", 550)
	drainOrders(b)

	ctx := context.Background()
	if _, err := b.PlaceOrder(ctx, types.OrderIntent{
		Symbol: "SBIN", Direction: types.Long, Quantity: 100,
		Kind: types.OrderMarket, ClientTag: "t3-entry",
	}); err != nil {
		t.Fatal(err)
	}
	// protective stop: sell 100 if price falls to 545
	if _, err := b.PlaceOrder(ctx, types.OrderIntent{
		Symbol: "SBIN", Direction: types.Short, Quantity: 100,
		Kind: types.OrderStop, TriggerPrice: 545, ClientTag: "t3-sl",
	}); err != nil {
		t.Fatal(err)
	}
	drainOrders(b)

	b.SetPrice("SBIN", 548)
	if got := drainOrders(b); len(got) != 0 {
		t.Fatalf("stop fired above trigger: %+v", got)
	}

	b.SetPrice("SBIN", 544.5)
	updates := drainOrders(b)
	if len(updates) != 1 || updates[0].State != types.OrderStateFilled {
		t.Fatalf("stop at trigger: %+v", updates)
	}

	positions, _ := b.Positions(ctx)
	if len(positions) != 0 {
		t.Errorf("expected flat after stop, got %+v", positions)
	}
}

func TestDuplicateClientTagDropped(t *testing.T) {
	t.Parallel()

	b := New(100000, nil)
	b.SetPrice("INFY", 1500)
	drainOrders(b)

	ctx := context.Background()
	intent := types.OrderIntent{
		Symbol: "INFY", Direction: types.Long, Quantity: 10,
		Kind: types.OrderMarket, ClientTag: "dup-entry",
	}
	id1, err := b.PlaceOrder(ctx, intent)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := b.PlaceOrder(ctx, intent)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("duplicate tag produced new order: %s vs %s", id1, id2)
	}

	positions, _ := b.Positions(ctx)
	if positions[0].NetQty != 10 {
		t.Errorf("duplicate intent doubled the position: %+v", positions)
	}
}

func TestRealizedPnLOnClose(t *testing.T) {
	t.Parallel()

	b := New(100000, nil)
	b.SetPrice("INFY", 100)
	drainOrders(b)

	ctx := context.Background()
	b.PlaceOrder(ctx, types.OrderIntent{Symbol: "INFY", Direction: types.Long, Quantity: 500, Kind: types.OrderMarket, ClientTag: "p1-entry"})
	b.SetPrice("INFY", 101.1)
	b.PlaceOrder(ctx, types.OrderIntent{Symbol: "INFY", Direction: types.Short, Quantity: 500, Kind: types.OrderMarket, ClientTag: "p1-close"})
	drainOrders(b)

	b.mu.Lock()
	pnl := b.positions["INFY"].PnL
	b.mu.Unlock()
	if pnl != 550 {
		t.Errorf("realized pnl = %.2f, want 550", pnl)
	}
}

func TestCancelAndModifyResting(t *testing.T) {
	t.Parallel()

	b := New(100000, nil)
	b.SetPrice("TCS", 3500)
	drainOrders(b)

	ctx := context.Background()
	id, _ := b.PlaceOrder(ctx, types.OrderIntent{
		Symbol: "TCS", Direction: types.Short, Quantity: 10,
		Kind: types.OrderStop, TriggerPrice: 3450, ClientTag: "m1-sl",
	})
	drainOrders(b)

	if err := b.ModifyOrder(ctx, id, 0, 3480, 0); err != nil {
		t.Fatalf("modify: %v", err)
	}
	b.SetPrice("TCS", 3479) // below the raised trigger
	updates := drainOrders(b)
	if len(updates) != 1 || updates[0].AvgPrice != 3480 {
		t.Fatalf("modified stop: %+v", updates)
	}

	if err := b.CancelOrder(ctx, "missing"); !errors.Is(err, types.ErrOrderNotFound) {
		t.Errorf("cancel missing = %v, want ErrOrderNotFound", err)
	}
}

func TestFaultInjection(t *testing.T) {
	t.Parallel()

	b := New(100000, nil)
	b.SetPrice("INFY", 1500)

	want := &types.RateLimitError{RetryAfter: 2 * time.Second}
	b.FailNext(want)

	_, err := b.PlaceOrder(context.Background(), types.OrderIntent{
		Symbol: "INFY", Direction: types.Long, Quantity: 1, Kind: types.OrderMarket, ClientTag: "f1",
	})
	var rl *types.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}

	// fault is one-shot
	if _, err := b.PlaceOrder(context.Background(), types.OrderIntent{
		Symbol: "INFY", Direction: types.Long, Quantity: 1, Kind: types.OrderMarket, ClientTag: "f2",
	}); err != nil {
		t.Errorf("second call after fault: %v", err)
	}
}

func TestTicksOnlyForSubscribed(t *testing.T) {
	t.Parallel()

	b := New(100000, nil)
	b.SetPrice("INFY", 1500)
	b.SetPrice("TCS", 3500)

	b.SubscribeTicks(context.Background(), []string{"INFY"})
	b.SetPrice("INFY", 1501)
	b.SetPrice("TCS", 3501)

	var ticks []types.Tick
	for {
		select {
		case tk := <-b.Ticks():
			ticks = append(ticks, tk)
			continue
		default:
		}
		break
	}
	if len(ticks) != 1 || ticks[0].Symbol != "INFY" {
		t.Errorf("ticks = %+v, want one INFY tick", ticks)
	}
}

func TestMarginShortfall(t *testing.T) {
	t.Parallel()

	b := New(10000, nil)
	b.SetPrice("INFY", 1500)

	m, err := b.Margin(context.Background(), []types.OrderIntent{
		{Symbol: "INFY", Quantity: 10, Kind: types.OrderMarket},
	})
	if err != nil {
		t.Fatal(err)
	}
	if m.Sufficient() {
		t.Errorf("15000 required on 10000 capital reported sufficient: %+v", m)
	}
	if m.Shortfall != 5000 {
		t.Errorf("shortfall = %.2f, want 5000", m.Shortfall)
	}

	// the batch is margined as a whole
	m, err = b.Margin(context.Background(), []types.OrderIntent{
		{Symbol: "INFY", Quantity: 4, Kind: types.OrderMarket},
		{Symbol: "INFY", Quantity: 4, Kind: types.OrderMarket},
	})
	if err != nil {
		t.Fatal(err)
	}
	if m.Required != 12000 || m.Shortfall != 2000 {
		t.Errorf("batch margin = %+v, want required 12000 shortfall 2000", m)
	}
}

func TestAccountReads(t *testing.T) {
	t.Parallel()

	b := New(100000, nil)
	b.SetPrice("INFY", 100)
	drainOrders(b)

	ctx := context.Background()
	if _, err := b.PlaceOrder(ctx, types.OrderIntent{
		Symbol: "INFY", Direction: types.Long, Quantity: 100,
		Kind: types.OrderMarket, ClientTag: "a1-entry",
	}); err != nil {
		t.Fatal(err)
	}
	restingID, err := b.PlaceOrder(ctx, types.OrderIntent{
		Symbol: "INFY", Direction: types.Short, Quantity: 100,
		Kind: types.OrderStop, TriggerPrice: 98, ClientTag: "a1-sl",
	})
	if err != nil {
		t.Fatal(err)
	}

	orders, err := b.Orders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 1 || orders[0].OrderID != restingID || orders[0].State != types.OrderStateOpen {
		t.Errorf("open orders = %+v, want the resting stop", orders)
	}

	book, err := b.Tradebook(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(book) != 1 || book[0].Symbol != "INFY" || book[0].Quantity != 100 || book[0].Price != 100 {
		t.Errorf("tradebook = %+v, want the entry fill", book)
	}

	funds, err := b.Funds(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if funds.Total != 100000 || funds.Utilized != 10000 || funds.Available != 90000 {
		t.Errorf("funds = %+v", funds)
	}

	holdings, err := b.Holdings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(holdings) != 0 {
		t.Errorf("intraday account holds deliveries: %+v", holdings)
	}
}
