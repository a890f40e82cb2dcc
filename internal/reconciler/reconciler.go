// Package reconciler turns a target ladder plus the exchange's open-order
// view into cancel/create actions, and executes them with per-action fault
// isolation.
package reconciler

import (
	"context"
	"math"
	"sync"

	"maker-bot-go/internal/exchange"
	"maker-bot-go/internal/models"

	"go.uber.org/zap"
)

// Policy names the two reconciliation strategies carried over from the
// deployment variants. They are genuinely different and both kept.
type Policy string

const (
	// PolicyRefresh cancels every open order and re-creates the full
	// ladder each tick. Blunt but cheap on a quiet pair.
	PolicyRefresh Policy = "refresh"
	// PolicyCoverage only places sides not already covered by a resting
	// order within one spread width, avoiding cancel/create churn.
	PolicyCoverage Policy = "coverage"
)

// Reconciler plans and executes order maintenance for a single pair.
type Reconciler struct {
	ex     exchange.Exchange
	symbol string
	policy Policy
	logger *zap.SugaredLogger
}

// New creates a Reconciler bound to one pair on one adapter.
func New(ex exchange.Exchange, symbol string, policy Policy, logger *zap.SugaredLogger) *Reconciler {
	return &Reconciler{ex: ex, symbol: symbol, policy: policy, logger: logger}
}

// Policy returns the active reconciliation policy.
func (r *Reconciler) Policy() Policy { return r.policy }

// Plan decides what to cancel and what to create this tick. It never talks
// to the exchange; Execute does.
//
// spread is the absolute coverage tolerance (mid * spreadPercent);
// ordersMax is the per-side cap for coverage mode and the total settling
// threshold for refresh mode.
func (r *Reconciler) Plan(target models.TargetLadder, open []models.OpenOrder, spread float64, ordersMax int) models.ReconcilePlan {
	switch r.policy {
	case PolicyCoverage:
		return planCoverage(target, open, spread)
	default:
		return planRefresh(target, open, ordersMax)
	}
}

// planRefresh: too many open orders means the previous batch is still
// settling, so do nothing this tick; otherwise wipe and re-quote.
func planRefresh(target models.TargetLadder, open []models.OpenOrder, ordersMax int) models.ReconcilePlan {
	if len(open) > ordersMax {
		return models.ReconcilePlan{Deferred: true}
	}
	plan := models.ReconcilePlan{Creates: append([]models.TargetEntry(nil), target...)}
	plan.Cancels = append(plan.Cancels, open...)
	return plan
}

// planCoverage: a target entry is satisfied by any same-side resting order
// within one spread width of its price. Only unsatisfied entries are
// created; nothing is cancelled here (TrimExcess handles overflow).
func planCoverage(target models.TargetLadder, open []models.OpenOrder, spread float64) models.ReconcilePlan {
	var plan models.ReconcilePlan
	for _, entry := range target {
		if !covered(entry, open, spread) {
			plan.Creates = append(plan.Creates, entry)
		}
	}
	return plan
}

func covered(entry models.TargetEntry, open []models.OpenOrder, spread float64) bool {
	for _, o := range open {
		if o.Side == entry.Side && math.Abs(o.Price-entry.Price) <= spread {
			return true
		}
	}
	return false
}

// TrimExcess picks at most ONE order to cancel when a side holds more than
// ordersMax orders: the highest-priced sell, else the lowest-priced buy.
// One cancellation per tick bounds the blast radius of a bad cycle; the
// remainder waits for the next snapshot.
func TrimExcess(open []models.OpenOrder, ordersMax int) *models.OpenOrder {
	var buys, sells int
	var lowestBuy, highestSell *models.OpenOrder
	for i := range open {
		o := &open[i]
		switch o.Side {
		case models.Sell:
			sells++
			if highestSell == nil || o.Price > highestSell.Price {
				highestSell = o
			}
		case models.Buy:
			buys++
			if lowestBuy == nil || o.Price < lowestBuy.Price {
				lowestBuy = o
			}
		}
	}
	if sells > ordersMax {
		return highestSell
	}
	if buys > ordersMax {
		return lowestBuy
	}
	return nil
}

// Execute applies a plan. All cancels are fired concurrently and awaited as
// a barrier before any create goes out, so the book never briefly holds both
// the old and the new ladder. Creates then fan out concurrently as well.
//
// Every per-order action is individually fault tolerant: a failed call is
// recorded in the returned results, logged, and never aborts its siblings or
// the tick. The one exception is a failed cancel-all, which ends the batch
// before any create goes out.
func (r *Reconciler) Execute(ctx context.Context, plan models.ReconcilePlan) []models.ActionResult {
	results := make([]models.ActionResult, 0, len(plan.Cancels)+len(plan.Creates)+1)
	resultCh := make(chan models.ActionResult, len(plan.Cancels)+len(plan.Creates)+1)

	var wg sync.WaitGroup
	if r.policy == PolicyRefresh && len(plan.Cancels) > 0 {
		// the whole set goes anyway, one venue call does it
		if err := r.ex.CancelAllOrders(ctx, r.symbol); err != nil {
			// the old ladder may still be resting; placing the new one on
			// top would double the book, so the tick ends here
			r.logger.Warnf("cancel-all 失败，本轮不再挂单: %v", err)
			return []models.ActionResult{{Action: "cancel-all", Err: err}}
		}
		resultCh <- models.ActionResult{Action: "cancel-all"}
	} else {
		for _, order := range plan.Cancels {
			wg.Add(1)
			go func(o models.OpenOrder) {
				defer wg.Done()
				err := r.ex.CancelOrder(ctx, r.symbol, o.ID)
				if err == exchange.ErrOrderNotFound {
					// already filled or cancelled: the goal state holds
					err = nil
				}
				resultCh <- models.ActionResult{Action: "cancel", Side: o.Side, Price: o.Price, Amount: o.Amount, Err: err}
			}(order)
		}
		wg.Wait() // cancel-before-create barrier
	}

	for _, entry := range plan.Creates {
		wg.Add(1)
		go func(t models.TargetEntry) {
			defer wg.Done()
			price := r.ex.ToPricePrecision(r.symbol, t.Price)
			order, err := r.ex.CreateLimitOrder(ctx, r.symbol, t.Side, t.Amount, price)
			resultCh <- models.ActionResult{Action: "create", OrderID: order.ID, Side: t.Side, Price: price, Amount: t.Amount, Err: err}
		}(entry)
	}
	wg.Wait()
	close(resultCh)

	for res := range resultCh {
		if res.Err != nil {
			r.logger.Warnf("%s %s %.8f @ %.8f 失败: %v", res.Action, res.Side, res.Amount, res.Price, res.Err)
		} else {
			r.logger.Infof("%s %s %.8f @ %.8f", res.Action, res.Side, res.Amount, res.Price)
		}
		results = append(results, res)
	}
	return results
}

// Cancel cancels a single order, used by the excess trim. Same tolerance as
// Execute: an already-gone order counts as success.
func (r *Reconciler) Cancel(ctx context.Context, order models.OpenOrder) error {
	err := r.ex.CancelOrder(ctx, r.symbol, order.ID)
	if err == exchange.ErrOrderNotFound {
		return nil
	}
	return err
}

// Created extracts the successfully created orders from execution results,
// for callers that need the post-creation open set without a refetch.
func Created(results []models.ActionResult) []models.OpenOrder {
	var out []models.OpenOrder
	for _, res := range results {
		if res.Action == "create" && res.Err == nil {
			out = append(out, models.OpenOrder{ID: res.OrderID, Side: res.Side, Price: res.Price, Amount: res.Amount})
		}
	}
	return out
}
