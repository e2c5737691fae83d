package monitor

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"autoexit/broker"
	"autoexit/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TickReport summarises one reconciliation pass.
type TickReport struct {
	TickID      string
	Positions   int
	Qualifying  int
	Skipped     int
	Placed      int
	Uncovered   int
	OrdersKnown bool
}

// Tick runs one reconciliation pass. An error means positions could not be
// fetched and nothing was changed.
func (m *Monitor) Tick(ctx context.Context) (TickReport, error) {
	started := time.Now()
	state := m.runtime()
	report := TickReport{TickID: uuid.NewString()[:8]}

	positions, err := m.gateway.ListPositions(ctx)
	if err != nil {
		err = fmt.Errorf("fetch positions: %w", err)
		m.finishTick(started, err)
		return report, err
	}

	orders, ordersErr := m.gateway.ListOrders(ctx)
	report.OrdersKnown = ordersErr == nil
	if ordersErr != nil {
		m.log.WithError(ordersErr).Warn("⚠️  [AutoExit] Could not fetch orders, treating existing exits as unknown")
		orders = nil
	}
	pendingSells := pendingSellQuantities(orders)

	var longs []broker.Position
	activeKeys := make(map[string]struct{})
	for _, pos := range positions {
		if pos.NetQuantity <= 0 {
			continue
		}
		longs = append(longs, pos)
		activeKeys[pos.Key()] = struct{}{}
	}
	m.cleanupInactive(ctx, activeKeys)
	report.Positions = len(longs)

	for i, pos := range longs {
		outcome := m.processPosition(ctx, pos, pendingSells, report.OrdersKnown, state, report.TickID, i+1, len(longs))
		switch outcome {
		case outcomeSkipped:
			report.Skipped++
			continue
		case outcomePlaced:
			report.Placed++
		}
		report.Qualifying++
		if _, uncovered := m.registry.pendingQty(pos.Key()); uncovered {
			report.Uncovered++
		}
	}

	m.updateCoverage(report)
	m.finishTick(started, nil)

	m.log.Debugf("📊 [AutoExit] Tick %s done - longs: %d | qualifying: %d | placed: %d | uncovered: %d | skipped: %d",
		report.TickID, report.Positions, report.Qualifying, report.Placed, report.Uncovered, report.Skipped)
	return report, nil
}

type positionOutcome int

const (
	outcomeSkipped positionOutcome = iota
	outcomeUnchanged
	outcomePlaced
)

// pendingSellQuantities sums the outstanding quantity of active SELL orders per key.
func pendingSellQuantities(orders []broker.Order) map[string]int {
	out := make(map[string]int)
	for _, o := range orders {
		if !strings.EqualFold(o.Side, broker.SideSell) || !o.Active() {
			continue
		}
		if qty := o.Outstanding(); qty > 0 {
			out[o.Key()] += qty
		}
	}
	return out
}

func (m *Monitor) processPosition(ctx context.Context, pos broker.Position, pendingSells map[string]int, ordersKnown bool, state RuntimeState, tickID string, index, total int) positionOutcome {
	key := pos.Key()

	if pos.AveragePrice.LessThanOrEqual(m.cfg.MinEntryPrice) {
		m.log.Debugf("⏭️  [AutoExit] (%d/%d) Skipping %s: entry ₹%s <= min_entry_price ₹%s", index, total, key, pos.AveragePrice, m.cfg.MinEntryPrice)
		return outcomeSkipped
	}
	if !state.AutoExitEnabled {
		m.log.Infof("⏭️  [AutoExit] (%d/%d) Auto-exit disabled, skipping %s", index, total, key)
		return outcomeSkipped
	}

	desired := max(pos.NetQuantity-pendingSells[key], 0)

	if stored, ok := m.registry.pendingQty(key); ok {
		remaining := stored
		if ordersKnown {
			if desired <= 0 {
				m.registry.settle(key)
				m.deletePending(ctx, key)
				m.log.Infof("✅ [AutoExit] %s now fully covered by resting orders, clearing remainder %d", key, stored)
				return outcomeUnchanged
			}
			if stored != desired {
				m.log.Warnf("⚖️  [AutoExit] %s remainder corrected %d → %d from order book", key, stored, desired)
				m.registry.setPending(key, desired)
				m.savePending(ctx, key, desired)
			}
			remaining = desired
		}
		if m.registry.isBlocked(key) {
			m.log.Warnf("🚫 [AutoExit] %s blocked after repeated rejections, %d still uncovered (use /retry)", key, remaining)
			return outcomeUnchanged
		}
		m.log.Infof("🔄 [AutoExit] (%d/%d) Continuing pending exit for %s, remaining=%d", index, total, key, remaining)
		if m.placeExitOrders(ctx, pos, remaining, state, tickID) {
			return outcomePlaced
		}
		return outcomeUnchanged
	}

	if m.registry.isTracked(key) {
		return outcomeUnchanged
	}

	if desired <= 0 {
		m.registry.settle(key)
		m.log.Infof("✅ [AutoExit] (%d/%d) %s already covered by existing SELL orders", index, total, key)
		return outcomeUnchanged
	}

	m.log.Infof("🆕 [AutoExit] (%d/%d) New long position %s: net=%d resting=%d uncovered=%d", index, total, key, pos.NetQuantity, pendingSells[key], desired)
	m.registry.setPending(key, desired)
	m.savePending(ctx, key, desired)
	if m.placeExitOrders(ctx, pos, desired, state, tickID) {
		return outcomePlaced
	}
	return outcomeUnchanged
}

// placeExitOrders places LIMIT SELL slices for qty at the target price. On
// a failed slice the unplaced quantity, failed slice included, stays pending
// and the rest waits for the next tick. Returns true when at least one slice
// was placed or simulated.
func (m *Monitor) placeExitOrders(ctx context.Context, pos broker.Position, qty int, state RuntimeState, tickID string) bool {
	key := pos.Key()
	price := ExitPrice(pos.AveragePrice, state.TargetPoints, m.cfg.TickSize)
	slices := SliceQuantities(qty, m.cfg.MaxOrderQuantity)

	m.log.Infof("🎯 [AutoExit] Placing target exit for %s: entry=%s target=%s qty=%d slices=%d paper=%v",
		key, pos.AveragePrice, price, qty, len(slices), state.PaperMode)

	remaining := qty
	var orderIDs []string
	var failure error

	for _, sliceQty := range slices {
		record := &logger.ExitRecord{
			Timestamp: time.Now(),
			TickID:    tickID,
			Key:       key,
			Symbol:    pos.Symbol,
			Product:   pos.Product,
			Quantity:  sliceQty,
			Price:     price.StringFixed(2),
			Paper:     state.PaperMode,
		}

		if state.PaperMode {
			record.OrderID = "PAPER"
			record.Success = true
			m.recordSlice(record)
			remaining -= sliceQty
			orderIDs = append(orderIDs, record.OrderID)
			continue
		}

		orderID, err := m.gateway.PlaceOrder(ctx, broker.OrderSpec{
			Exchange:  pos.Exchange,
			Symbol:    pos.Symbol,
			Side:      broker.SideSell,
			Quantity:  sliceQty,
			Product:   pos.Product,
			OrderType: broker.OrderTypeLimit,
			Price:     price,
			Tag:       "autoexit",
		})
		if err != nil {
			record.Error = err.Error()
			m.recordSlice(record)
			failure = err
			m.log.WithError(err).Errorf("❌ [AutoExit] Slice failed for %s qty=%d, remaining to exit later: %d", key, sliceQty, remaining)
			break
		}

		record.OrderID = orderID
		record.Success = true
		m.recordSlice(record)
		m.registry.resetFailures(key)
		orderIDs = append(orderIDs, orderID)
		remaining -= sliceQty
		m.log.Infof("✅ [AutoExit] Placed exit slice for %s: qty=%d price=%s order=%s", key, sliceQty, price, orderID)

		if remaining > 0 {
			m.registry.setPending(key, remaining)
			m.savePending(ctx, key, remaining)
		}
	}

	if remaining <= 0 {
		if state.PaperMode {
			m.registry.settleSimulated(key)
		} else {
			m.registry.settle(key)
		}
		m.deletePending(ctx, key)
	} else {
		m.registry.setPending(key, remaining)
		m.savePending(ctx, key, remaining)
	}

	m.notifyPlacement(pos, price, qty, remaining, len(slices), orderIDs, state)

	if failure != nil {
		if m.registry.recordFailure(key, broker.IsPermanent(failure), m.cfg.MaxPermanentFailures) {
			m.log.Errorf("🚫 [AutoExit] %s blocked after %d consecutive rejections", key, m.cfg.MaxPermanentFailures)
			m.notifier.Notify(fmt.Sprintf("🚫 <b>Exit blocked</b> for %s after %d rejections. Remaining qty: %d\nLast error: %s\nSend /retry after fixing the cause.",
				pos.Symbol, m.cfg.MaxPermanentFailures, remaining, html.EscapeString(failure.Error())))
		}
	}
	return len(orderIDs) > 0
}

func (m *Monitor) notifyPlacement(pos broker.Position, price decimal.Decimal, qty, remaining, attempted int, orderIDs []string, state RuntimeState) {
	switch {
	case state.PaperMode:
		m.notifier.Notify(fmt.Sprintf("📊 <b>Paper Mode Exit Orders</b>\n\nSymbol: %s\nQty: %d\nEntry: ₹%s\n🎯 Target: ₹%s (+%s)",
			pos.Symbol, qty, pos.AveragePrice, price.StringFixed(2), state.TargetPoints))
	case len(orderIDs) > 0:
		msg := fmt.Sprintf("✅ <b>Exit Orders Placed</b>\n\nSymbol: %s\nQty: %d (sliced <= %d)\nEntry: ₹%s\n🎯 Target: ₹%s (Orders: %s)\n🧮 Placed slices: %d/%d",
			pos.Symbol, qty, m.cfg.MaxOrderQuantity, pos.AveragePrice, price.StringFixed(2), strings.Join(orderIDs, ", "), len(orderIDs), attempted)
		if remaining > 0 {
			msg += fmt.Sprintf("\n⏳ Pending remaining qty: %d", remaining)
		}
		m.notifier.Notify(msg)
	default:
		m.notifier.Notify(fmt.Sprintf("❌ Could not place any exit slice for %s. Will retry. Remaining qty: %d", pos.Symbol, remaining))
	}
}

// updateCoverage announces the transition into "everything covered" once.
func (m *Monitor) updateCoverage(report TickReport) {
	covered := report.Qualifying > 0 && report.Uncovered == 0

	m.mu.Lock()
	announce := covered && !m.allCovered
	m.allCovered = covered
	m.mu.Unlock()

	if announce {
		m.log.Infof("🛡️  [AutoExit] All %d qualifying position(s) covered by exit orders", report.Qualifying)
		m.notifier.Notify(fmt.Sprintf("🛡️ All positions covered: %d position(s) have exit orders", report.Qualifying))
	}
}

func (m *Monitor) cleanupInactive(ctx context.Context, activeKeys map[string]struct{}) {
	droppedPending, droppedTracked := m.registry.cleanup(activeKeys)
	for _, key := range droppedPending {
		m.deletePending(ctx, key)
		m.log.Infof("🧹 [AutoExit] %s no longer long, dropping pending remainder", key)
	}
	for _, key := range droppedTracked {
		m.log.Debugf("🧹 [AutoExit] %s no longer long, forgetting tracked state", key)
	}
}

func (m *Monitor) finishTick(started time.Time, err error) {
	counts := m.registry.counts()
	m.metrics.ObserveTick(time.Since(started), err)
	m.metrics.SetExitState(counts.pending, counts.tracked)

	m.mu.Lock()
	m.lastTickAt = time.Now()
	if err != nil {
		m.lastError = err.Error()
	} else {
		m.lastError = ""
	}
	m.mu.Unlock()
}

func (m *Monitor) recordSlice(record *logger.ExitRecord) {
	m.metrics.ExitSlice(record.Paper, record.Success)
	if m.journal == nil {
		return
	}
	if err := m.journal.LogExit(record); err != nil {
		m.log.WithError(err).Warn("⚠️  [AutoExit] Failed to journal exit slice")
	}
}

func (m *Monitor) savePending(ctx context.Context, key string, qty int) {
	if m.store == nil {
		return
	}
	if err := m.store.SavePendingExit(ctx, key, qty); err != nil {
		m.log.WithError(err).Warnf("⚠️  [AutoExit] Failed to persist pending exit for %s", key)
	}
}

func (m *Monitor) deletePending(ctx context.Context, key string) {
	if m.store == nil {
		return
	}
	if err := m.store.DeletePendingExit(ctx, key); err != nil {
		m.log.WithError(err).Warnf("⚠️  [AutoExit] Failed to delete pending exit for %s", key)
	}
}
