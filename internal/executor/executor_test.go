package executor

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"intradesk/internal/broker/sim"
	"intradesk/internal/ledger"
	"intradesk/pkg/types"
)

const testDate = "2025-06-02"

type fixture struct {
	broker *sim.Broker
	ledger *ledger.Ledger
	exec   *Executor
	cancel context.CancelFunc
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	b := sim.New(1_000_000, nil)
	l, err := ledger.New(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}
	ex := New(b, l, Config{
		FillWait:     200 * time.Millisecond,
		TickSize:     0.05,
		Capital:      100000,
		MaxDailyLoss: 0.02,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go ex.Pump(ctx)
	t.Cleanup(cancel)
	return &fixture{broker: b, ledger: l, exec: ex, cancel: cancel}
}

func approved(symbol string, entry, sl, tp float64, qty int) types.ApprovedOrder {
	return types.ApprovedOrder{
		Symbol: symbol, Direction: types.Long, Quantity: qty,
		EntryType: types.EntryLimit, EntryPrice: entry, StopLoss: sl, TakeProfit: tp,
	}
}

// waitStatus polls until the trade reaches status or the deadline passes.
func waitStatus(t *testing.T, l *ledger.Ledger, id string, want types.TradeStatus) types.Trade {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tr, err := l.Get(testDate, id)
		if err == nil && tr.Status == want {
			return tr
		}
		time.Sleep(5 * time.Millisecond)
	}
	tr, _ := l.Get(testDate, id)
	t.Fatalf("trade %s stuck at %s, want %s", id, tr.Status, want)
	return tr
}

func TestEntryFillThenBrackets(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.broker.SetPrice("INFY", 100) // marketable: limit 100.50 crosses immediately

	report, err := f.exec.Execute(context.Background(), testDate, []types.ApprovedOrder{
		approved("INFY", 100.50, 98.50, 103.50, 500),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Placed) != 1 || len(report.Rejected) != 0 {
		t.Fatalf("report = %+v", report)
	}

	tr := waitStatus(t, f.ledger, report.Placed[0], types.TradeOpen)
	if tr.AvgFill != 100.50 {
		t.Errorf("avg fill = %.2f", tr.AvgFill)
	}
	if tr.StopOrderID == "" || tr.TPOrderID == "" {
		t.Error("brackets not armed after entry fill")
	}
	if tr.EntryOrderID == "" {
		t.Error("entry order id not recorded")
	}
}

func TestStopOutSettlesTrade(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.broker.SetPrice("INFY", 100)

	report, err := f.exec.Execute(context.Background(), testDate, []types.ApprovedOrder{
		approved("INFY", 100.50, 98.50, 103.50, 500),
	})
	if err != nil || len(report.Placed) != 1 {
		t.Fatalf("execute: %v %+v", err, report)
	}
	id := report.Placed[0]
	waitStatus(t, f.ledger, id, types.TradeOpen)

	f.broker.SetPrice("INFY", 98.40) // through the stop
	tr := waitStatus(t, f.ledger, id, types.TradeStoppedOut)

	if tr.OpenQty != 0 {
		t.Errorf("open qty after stop = %d", tr.OpenQty)
	}
	wantPnL := types.MoneyMul(500, 98.50-100.50)
	if tr.RealizedPnL != wantPnL {
		t.Errorf("realized = %.2f, want %.2f", tr.RealizedPnL, wantPnL)
	}

	// the sibling target must be gone from the venue
	positions, _ := f.broker.Positions(context.Background())
	if len(positions) != 0 {
		t.Errorf("venue not flat after stop-out: %+v", positions)
	}
	f.broker.SetPrice("INFY", 103.60) // would cross the old target
	time.Sleep(50 * time.Millisecond)
	if after, _ := f.broker.Positions(context.Background()); len(after) != 0 {
		t.Errorf("orphan target filled after stop-out: %+v", after)
	}
}

func TestTargetHitRealizesProfit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.broker.SetPrice("INFY", 100)

	report, err := f.exec.Execute(context.Background(), testDate, []types.ApprovedOrder{
		approved("INFY", 100.50, 98.50, 101.60, 500),
	})
	if err != nil || len(report.Placed) != 1 {
		t.Fatalf("execute: %v %+v", err, report)
	}
	id := report.Placed[0]
	waitStatus(t, f.ledger, id, types.TradeOpen)

	f.broker.SetPrice("INFY", 101.70)
	tr := waitStatus(t, f.ledger, id, types.TradeClosed)

	wantPnL := types.MoneyMul(500, 101.60-100.50)
	if tr.RealizedPnL != wantPnL {
		t.Errorf("realized = %.2f, want %.2f (550)", tr.RealizedPnL, wantPnL)
	}
}

func TestUnfilledEntryExpires(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.broker.SetPrice("TCS", 3500) // limit far below, never crosses

	report, err := f.exec.Execute(context.Background(), testDate, []types.ApprovedOrder{
		approved("TCS", 3400, 3380, 3450, 10),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Rejected) != 1 || !strings.Contains(report.Rejected[0], "unfilled") {
		t.Fatalf("report = %+v", report)
	}

	trades, _ := f.ledger.Trades(testDate)
	if len(trades) != 1 || trades[0].Status != types.TradeExpired {
		t.Errorf("trades = %+v", trades)
	}
}

func TestPartialEntryKeptAtWindowExpiry(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.broker.SetPrice("TCS", 3500) // limit far below, rests untouched

	done := make(chan *types.ExecReport, 1)
	go func() {
		report, err := f.exec.Execute(context.Background(), testDate, []types.ApprovedOrder{
			approved("TCS", 3400, 3380, 3450, 10),
		})
		if err != nil {
			t.Error(err)
		}
		done <- report
	}()

	// wait for the entry to rest, then report 4 of 10 filled before the
	// window closes
	var tr types.Trade
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		trades, _ := f.ledger.Trades(testDate)
		if len(trades) == 1 && trades[0].Status == types.TradeWorking {
			tr = trades[0]
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if tr.ID == "" {
		t.Fatal("entry never reached WORKING")
	}
	f.exec.HandleUpdate(context.Background(), types.OrderUpdate{
		OrderID:   tr.EntryOrderID,
		ClientTag: tr.ClientTag("entry"),
		Symbol:    "TCS",
		State:     types.OrderStatePartial,
		FilledQty: 4,
		AvgPrice:  3400,
	})

	report := <-done
	if len(report.Placed) != 1 || len(report.Rejected) != 0 {
		t.Fatalf("report = %+v, want the partial kept", report)
	}

	got := waitStatus(t, f.ledger, tr.ID, types.TradeOpen)
	if got.OpenQty != 4 {
		t.Errorf("open qty = %d, want the filled 4", got.OpenQty)
	}
	if got.AvgFill != 3400 {
		t.Errorf("avg fill = %.2f", got.AvgFill)
	}
	if got.StopOrderID == "" || got.TPOrderID == "" {
		t.Error("brackets not armed on the filled slice")
	}
}

func TestLostBracketReplaced(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.broker.SetPrice("INFY", 100)

	report, err := f.exec.Execute(context.Background(), testDate, []types.ApprovedOrder{
		approved("INFY", 100.50, 98.50, 103.50, 500),
	})
	if err != nil || len(report.Placed) != 1 {
		t.Fatalf("execute: %v %+v", err, report)
	}
	id := report.Placed[0]
	tr := waitStatus(t, f.ledger, id, types.TradeOpen)
	firstStop := tr.StopOrderID

	// the venue drops the stop out from under the open position
	if err := f.broker.CancelOrder(context.Background(), firstStop); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tr, _ = f.ledger.Get(testDate, id)
		if tr.StopOrderID != "" && tr.StopOrderID != firstStop {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if tr.StopOrderID == firstStop {
		t.Fatal("lost stop was not re-placed")
	}
	if tr.Status != types.TradeOpen {
		t.Fatalf("status after repair = %s, want still OPEN", tr.Status)
	}

	// a second loss gives up on patching and flattens
	if err := f.broker.CancelOrder(context.Background(), tr.StopOrderID); err != nil {
		t.Fatal(err)
	}
	tr = waitStatus(t, f.ledger, id, types.TradeClosed)
	if tr.OpenQty != 0 {
		t.Errorf("open qty after forced close = %d", tr.OpenQty)
	}
}

func TestVenueRejectionRecorded(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.broker.SetPrice("INFY", 100)
	f.broker.FailNext(&types.UpstreamError{Status: 400, Code: "rms", Message: "blocked by rms"})

	report, err := f.exec.Execute(context.Background(), testDate, []types.ApprovedOrder{
		approved("INFY", 100.50, 98.50, 103.50, 500),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Rejected) != 1 {
		t.Fatalf("report = %+v", report)
	}
	trades, _ := f.ledger.Trades(testDate)
	if len(trades) != 1 || trades[0].Status != types.TradeRejected {
		t.Errorf("trades = %+v", trades)
	}
}

func TestThinBookMarketEntryDowngraded(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.broker.SetPrice("INFY", 100) // sim book shows 15000 per side

	report, err := f.exec.Execute(context.Background(), testDate, []types.ApprovedOrder{{
		Symbol: "INFY", Direction: types.Long, Quantity: 4000,
		EntryType: types.EntryMarket, EntryPrice: 100.50, StopLoss: 98.50, TakeProfit: 103.50,
	}})
	if err != nil || len(report.Placed) != 1 {
		t.Fatalf("execute: %v %+v", err, report)
	}

	// a pure market order would fill at the tape (100); filling at the
	// limit price proves the thin-book downgrade engaged
	tr := waitStatus(t, f.ledger, report.Placed[0], types.TradeOpen)
	if tr.AvgFill != 100.50 {
		t.Errorf("avg fill = %.2f, want 100.50 via limit entry", tr.AvgFill)
	}
}

func TestTransientPlacementFailureRetried(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.broker.SetPrice("INFY", 100)
	f.broker.FailNext(&types.UpstreamError{Status: 503, Code: "busy", Message: "try again"})

	report, err := f.exec.Execute(context.Background(), testDate, []types.ApprovedOrder{
		approved("INFY", 100.50, 98.50, 103.50, 500),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Placed) != 1 || len(report.Rejected) != 0 {
		t.Fatalf("report = %+v", report)
	}
	waitStatus(t, f.ledger, report.Placed[0], types.TradeOpen)
}

func TestDailyLossFloorRefusesBatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.broker.SetPrice("INFY", 100)

	// seed a closed loser past the 2% of 100k floor
	loser := &types.Trade{
		ID: "loser", Date: testDate, Symbol: "SBIN", Direction: types.Long,
		Quantity: 100, EntryPrice: 550, StopLoss: 540, RealizedPnL: -2100,
		Status: types.TradeStoppedOut,
	}
	if err := f.ledger.Create(loser); err != nil {
		t.Fatal(err)
	}

	report, err := f.exec.Execute(context.Background(), testDate, []types.ApprovedOrder{
		approved("INFY", 100.50, 98.50, 103.50, 500),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Placed) != 0 || len(report.Skipped) != 1 {
		t.Fatalf("report = %+v", report)
	}
	if !strings.Contains(report.Skipped[0], "daily loss floor") {
		t.Errorf("skip reason = %q", report.Skipped[0])
	}
}

func TestMoveStopAndManualClose(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.broker.SetPrice("INFY", 100)

	report, _ := f.exec.Execute(context.Background(), testDate, []types.ApprovedOrder{
		approved("INFY", 100.50, 98.50, 110, 500),
	})
	id := report.Placed[0]
	waitStatus(t, f.ledger, id, types.TradeOpen)

	// trail the stop to breakeven
	if err := f.exec.MoveStop(context.Background(), testDate, id, 100.50); err != nil {
		t.Fatal(err)
	}
	tr, _ := f.ledger.Get(testDate, id)
	if tr.StopLoss != 100.50 {
		t.Errorf("stop = %.2f, want breakeven", tr.StopLoss)
	}
	if tr.InitialStop != 98.50 {
		t.Errorf("initial stop moved: %.2f", tr.InitialStop)
	}

	// manual close at market
	f.broker.SetPrice("INFY", 102)
	if err := f.exec.CloseTrade(context.Background(), testDate, id, "news invalidation"); err != nil {
		t.Fatal(err)
	}
	tr = waitStatus(t, f.ledger, id, types.TradeClosed)
	if tr.RealizedPnL != types.MoneyMul(500, 102-100.50) {
		t.Errorf("realized = %.2f", tr.RealizedPnL)
	}
}

func TestBookPartialResizesBrackets(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.broker.SetPrice("INFY", 100)

	report, _ := f.exec.Execute(context.Background(), testDate, []types.ApprovedOrder{
		approved("INFY", 100.50, 98.50, 110, 500),
	})
	id := report.Placed[0]
	waitStatus(t, f.ledger, id, types.TradeOpen)

	f.broker.SetPrice("INFY", 104.50) // 2R in profit
	if err := f.exec.BookPartial(context.Background(), testDate, id, 250); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var tr types.Trade
	for time.Now().Before(deadline) {
		tr, _ = f.ledger.Get(testDate, id)
		if tr.PartialDone {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !tr.PartialDone || tr.OpenQty != 250 {
		t.Fatalf("partial not booked: %+v", tr)
	}
	if tr.Status != types.TradeOpen {
		t.Errorf("status after partial = %s, want still OPEN", tr.Status)
	}
	if tr.RealizedPnL != types.MoneyMul(250, 104.50-100.50) {
		t.Errorf("partial realized = %.2f", tr.RealizedPnL)
	}
}
