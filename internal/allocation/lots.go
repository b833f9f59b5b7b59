package allocation

import (
	"github.com/shopspring/decimal"

	"trade-pnl-lab/internal/domain"
)

// openLot is a buy fill with quantity not yet consumed by a sell.
type openLot struct {
	record    *domain.TradeRecord
	remaining decimal.Decimal
}

// lotQueue is an ordered queue of open buy lots for one symbol.
// Lots enter in FIFO total order and are consumed from the front.
type lotQueue struct {
	lots []*openLot
}

func newLotQueue() *lotQueue {
	return &lotQueue{}
}

// push appends a buy fill as a fully open lot.
func (q *lotQueue) push(buy *domain.TradeRecord) {
	q.lots = append(q.lots, &openLot{
		record:    buy,
		remaining: buy.Quantity,
	})
}

// front returns the oldest open lot, or nil when the queue is empty.
func (q *lotQueue) front() *openLot {
	if len(q.lots) == 0 {
		return nil
	}
	return q.lots[0]
}

// consume decrements the front lot by qty, popping it when fully consumed.
// qty must not exceed the front lot's remaining quantity.
func (q *lotQueue) consume(qty decimal.Decimal) {
	lot := q.lots[0]
	lot.remaining = lot.remaining.Sub(qty)
	if lot.remaining.IsZero() {
		q.lots = q.lots[1:]
	}
}

// openQty returns the total remaining quantity across all open lots.
func (q *lotQueue) openQty() decimal.Decimal {
	total := decimal.Zero
	for _, lot := range q.lots {
		total = total.Add(lot.remaining)
	}
	return total
}
