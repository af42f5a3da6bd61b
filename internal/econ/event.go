package econ

import (
	"github.com/shopspring/decimal"
)

// Event is a random company happening that nudges the stock price when a
// public company files a report. Impact bounds are fractions of the
// price; negative events carry negative bounds. The report path clamps
// the combined delta, not the event itself.
type Event struct {
	Name        string
	Description string
	Weight      int
	ImpactMin   float64
	ImpactMax   float64
	Positive    bool
}

var positiveEvents = []Event{
	{Name: "viral marketing", Description: "A marketing stunt goes viral overnight.", Weight: 30, ImpactMin: 0.02, ImpactMax: 0.08, Positive: true},
	{Name: "major contract", Description: "A major client signs a multi-year contract.", Weight: 25, ImpactMin: 0.04, ImpactMax: 0.12, Positive: true},
	{Name: "analyst upgrade", Description: "A respected analyst upgrades the stock.", Weight: 20, ImpactMin: 0.01, ImpactMax: 0.05, Positive: true},
	{Name: "product breakthrough", Description: "R&D ships a breakthrough product.", Weight: 15, ImpactMin: 0.05, ImpactMax: 0.15, Positive: true},
	{Name: "buyout rumor", Description: "Rumors swirl of a lucrative buyout offer.", Weight: 10, ImpactMin: 0.08, ImpactMax: 0.20, Positive: true},
}

var negativeEvents = []Event{
	{Name: "supply shortage", Description: "A key supplier misses deliveries.", Weight: 30, ImpactMin: -0.08, ImpactMax: -0.02, Positive: false},
	{Name: "bad press", Description: "An unflattering exposé makes the rounds.", Weight: 25, ImpactMin: -0.06, ImpactMax: -0.01, Positive: false},
	{Name: "executive scandal", Description: "An executive resigns amid scandal.", Weight: 20, ImpactMin: -0.12, ImpactMax: -0.04, Positive: false},
	{Name: "regulatory probe", Description: "Regulators open an inquiry into the books.", Weight: 15, ImpactMin: -0.15, ImpactMax: -0.05, Positive: false},
	{Name: "data breach", Description: "Customer data leaks in a breach.", Weight: 10, ImpactMin: -0.20, ImpactMax: -0.08, Positive: false},
}

// EventProbability returns the chance of any event firing for a report
// with the given net profit. Base 25%, scaled by profit tier; extremes
// (losses and windfalls) are more newsworthy.
func EventProbability(netProfit decimal.Decimal) float64 {
	const base = 0.25
	switch {
	case netProfit.Sign() <= 0:
		return base * 1.3
	case netProfit.LessThanOrEqual(decimal.NewFromInt(5000)):
		return base * 1.1
	case netProfit.LessThanOrEqual(decimal.NewFromInt(10000)):
		return base * 1.0
	default:
		return base * 1.2
	}
}

// DrawEvent decides whether an event fires and which, returning the event
// and its rolled impact fraction, or nil if nothing happened. Pool choice
// leans with the profit tier: losses draw mostly negative news,
// windfalls mostly positive.
func DrawEvent(netProfit decimal.Decimal, r Roller) (*Event, decimal.Decimal) {
	if r.Float64() >= EventProbability(netProfit) {
		return nil, decimal.Zero
	}

	var positiveOdds float64
	switch {
	case netProfit.Sign() <= 0:
		positiveOdds = 0.3
	case netProfit.GreaterThan(decimal.NewFromInt(10000)):
		positiveOdds = 0.6
	default:
		positiveOdds = 0.5
	}

	pool := negativeEvents
	if r.Float64() < positiveOdds {
		pool = positiveEvents
	}

	ev := weightedPick(pool, r)
	span := ev.ImpactMax - ev.ImpactMin
	impact := ev.ImpactMin + r.Float64()*span
	return &ev, decimal.NewFromFloat(impact)
}

func weightedPick(pool []Event, r Roller) Event {
	total := 0
	for _, ev := range pool {
		total += ev.Weight
	}
	n := r.Intn(total)
	for _, ev := range pool {
		n -= ev.Weight
		if n < 0 {
			return ev
		}
	}
	return pool[len(pool)-1]
}
