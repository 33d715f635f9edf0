package diagnostics

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marginguard-backend/internal/reporting"
	dbtypes "github.com/angelmondragon/marginguard-backend/pkg/db/types"
	"github.com/angelmondragon/marginguard-backend/pkg/enums"
)

// Inputs is the ledger state the engine scores.
type Inputs struct {
	Current  reporting.Summary
	Previous reporting.Summary
	Products []reporting.ProductLine
}

// Result is a computed diagnosis before persistence.
type Result struct {
	Score           int
	Level           enums.RiskLevel
	Factors         dbtypes.FactorMap
	OpportunityLoss decimal.Decimal
}

// SafeDefault is the diagnosis of a merchant with no ledger history.
func SafeDefault() Result {
	factors := dbtypes.FactorMap{}
	for _, name := range FactorNames {
		factors[name] = 0
	}
	return Result{
		Score:           0,
		Level:           enums.RiskLevelSafe,
		Factors:         factors,
		OpportunityLoss: decimal.Zero,
	}
}

// Evaluate scores the inputs under policy. It is a pure function: identical
// inputs always produce an identical result.
func Evaluate(policy Policy, in Inputs) Result {
	if in.Current.IsEmpty() && in.Previous.IsEmpty() {
		return SafeDefault()
	}

	factors := dbtypes.FactorMap{
		FactorRefundBleed:  refundBleed(policy, in.Current),
		FactorSilentFee:    silentFee(policy, in.Current),
		FactorROASTrap:     roasTrap(policy, in.Current, in.Previous),
		FactorCashFlow:     cashFlow(policy, in.Current),
		FactorToxicProduct: toxicProduct(policy, in.Products),
	}.Rounded(2)

	w := policy.Weights
	weighted := w.RefundBleed*factors[FactorRefundBleed] +
		w.SilentFee*factors[FactorSilentFee] +
		w.ROASTrap*factors[FactorROASTrap] +
		w.CashFlow*factors[FactorCashFlow] +
		w.ToxicProduct*factors[FactorToxicProduct]
	score := int(math.Round(clamp(weighted)))

	return Result{
		Score:           score,
		Level:           policy.Level(score),
		Factors:         factors,
		OpportunityLoss: opportunityLoss(policy, in),
	}
}

// refundBleed reaches 100 when the refund rate is three times the acceptable rate.
func refundBleed(p Policy, s reporting.Summary) float64 {
	rate := s.RefundRate().InexactFloat64()
	if p.AcceptableRefundRate <= 0 {
		return clamp(rate * 100)
	}
	excess := rate - p.AcceptableRefundRate
	return clamp(excess / (2 * p.AcceptableRefundRate) * 100)
}

// silentFee scales linearly between the fee ratio floor and ceiling.
func silentFee(p Policy, s reporting.Summary) float64 {
	ratio := s.FeeRatio().InexactFloat64()
	span := p.FeeRatioCeiling - p.FeeRatioFloor
	if span <= 0 {
		return 0
	}
	return clamp((ratio - p.FeeRatioFloor) / span * 100)
}

// roasTrap combines the spend-up/ROI-down trend across windows with pressure
// from a negative ROI in the current window.
func roasTrap(p Policy, cur, prev reporting.Summary) float64 {
	if !cur.AdSpend.IsPositive() {
		return 0
	}
	curSpend := cur.AdSpend.InexactFloat64()
	prevSpend := prev.AdSpend.InexactFloat64()
	curROI := cur.ROI.InexactFloat64()

	trend := 0.0
	if prevSpend > 0 {
		growth := (curSpend - prevSpend) / prevSpend
		drop := prev.ROI.InexactFloat64() - curROI
		if growth > 0 && drop > 0 && p.ROASSensitivity > 0 {
			trend = 100 * math.Min(1, growth) * math.Min(1, drop/p.ROASSensitivity)
		}
	}

	pressure := 0.0
	if curROI < 0 {
		pressure = 100 * math.Min(1, -curROI)
	}
	return clamp(math.Max(trend, pressure))
}

// cashFlow compares runway (net profit over average daily burn) with the
// safety threshold.
func cashFlow(p Policy, s reporting.Summary) float64 {
	days := float64(p.WindowDays)
	if days <= 0 || p.RunwaySafetyDays <= 0 {
		return 0
	}
	variable := s.AdSpend.Add(s.COGS).Add(s.ExpenseFees).Add(s.RetainedFees).Add(s.Refunds).InexactFloat64()
	burn := p.FixedDailyCost + variable/days
	if burn <= 0 {
		return 0
	}
	runway := math.Max(0, s.NetProfit.InexactFloat64()/burn)
	return clamp((1 - runway/p.RunwaySafetyDays) * 100)
}

// toxicProduct scales with the revenue share of products under the minimum margin.
func toxicProduct(p Policy, products []reporting.ProductLine) float64 {
	total, toxic := decimal.Zero, decimal.Zero
	for _, line := range products {
		if !line.Revenue.IsPositive() {
			continue
		}
		total = total.Add(line.Revenue)
		if line.MarginRate.InexactFloat64() < p.MinProductMargin {
			toxic = toxic.Add(line.Revenue)
		}
	}
	if !total.IsPositive() || p.MaxToxicShare <= 0 {
		return 0
	}
	share := toxic.Div(total).InexactFloat64()
	return clamp(share / p.MaxToxicShare * 100)
}

// opportunityLoss estimates money recoverable by fixing each factor. Advisory only.
func opportunityLoss(p Policy, in Inputs) decimal.Decimal {
	cur := in.Current
	gross := cur.GrossRevenue
	loss := decimal.Zero

	acceptableRefunds := gross.Mul(decimal.NewFromFloat(p.AcceptableRefundRate))
	if cur.Refunds.GreaterThan(acceptableRefunds) {
		loss = loss.Add(cur.Refunds.Sub(acceptableRefunds))
	}
	baselineFees := gross.Mul(decimal.NewFromFloat(p.FeeRatioFloor))
	if cur.Fees.GreaterThan(baselineFees) {
		loss = loss.Add(cur.Fees.Sub(baselineFees))
	}
	if cur.AdSpend.IsPositive() && cur.NetProfit.IsNegative() {
		loss = loss.Add(decimal.Min(cur.AdSpend, cur.NetProfit.Neg()))
	}

	minMargin := decimal.NewFromFloat(p.MinProductMargin)
	for _, line := range in.Products {
		if !line.Revenue.IsPositive() {
			continue
		}
		target := line.Revenue.Mul(minMargin)
		if line.Margin.LessThan(target) {
			loss = loss.Add(target.Sub(line.Margin))
		}
	}
	return loss.Round(2)
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
