package fairshare

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lablup/sokovan/internal/sokovan/schedulerobjects"
)

// DefaultResourceWeights is the built-in per-resource weight table used when
// neither the scope nor the resource group configures one. Memory is
// weighted down because it is accounted in megabytes; accelerators are
// weighted up because they are the scarce resource.
func DefaultResourceWeights() schedulerobjects.ResourceSlot {
	return schedulerobjects.MustResourceSlot(map[string]string{
		"cpu":         "1.0",
		"mem":         "0.001",
		"cuda.device": "10.0",
		"cuda.shares": "10.0",
	})
}

// secondsPerDay converts the half-life into the time capacity that
// normalizes accumulated resource-seconds.
var secondsPerDay = decimal.NewFromInt(86400)

// exponent clamp bounds for the factor computation
var (
	maxFactorExponent = decimal.NewFromInt(10)
	minFactorExponent = decimal.NewFromInt(-10)
)

// Calculator turns decayed usage into fair-share factors. It performs pure
// computation; loading usage and persisting snapshots is the job's concern.
//
// The factor formula is F = 2^(-normalizedUsage / weight), so F is 1 for a
// scope with no recent usage and approaches 0 as usage grows. Decay halves
// a day's contribution every halfLifeDays.
type Calculator struct {
	defaultResourceWeights schedulerobjects.ResourceSlot
}

func NewCalculator(defaultResourceWeights schedulerobjects.ResourceSlot) *Calculator {
	if len(defaultResourceWeights) == 0 {
		defaultResourceWeights = DefaultResourceWeights()
	}
	return &Calculator{defaultResourceWeights: defaultResourceWeights}
}

// DecayedUsage sums the given buckets with exponential time decay applied,
// restricted to the trailing lookback window ending at today. Today's usage
// is undecayed; a bucket halfLifeDays old contributes half its usage.
// Buckets dated in the future are summed undecayed rather than rejected.
func (c *Calculator) DecayedUsage(
	buckets []UsageBucket,
	today time.Time,
	halfLifeDays int,
	lookbackDays int,
) schedulerobjects.ResourceSlot {
	todayDate := dayOf(today)
	total := schedulerobjects.ResourceSlot{}
	for _, bucket := range buckets {
		ageDays := int(todayDate.Sub(dayOf(bucket.BucketDate)).Hours() / 24)
		if ageDays > lookbackDays {
			continue
		}
		if ageDays <= 0 {
			total = total.Add(bucket.Usage)
			continue
		}
		decay := decimal.NewFromFloat(math.Exp2(-float64(ageDays) / float64(halfLifeDays)))
		total = total.Add(bucket.Usage.Scale(decay))
	}
	return total
}

// CalculateFactor computes (normalizedUsage, fairShareFactor) for one scope.
// usage is the total decayed usage in resource-seconds, weight the scope's
// effective scalar weight (must be positive), and timeCapacity the
// normalization denominator, halfLifeDays worth of seconds.
func (c *Calculator) CalculateFactor(
	usage schedulerobjects.ResourceSlot,
	weight decimal.Decimal,
	resourceWeights schedulerobjects.ResourceSlot,
	timeCapacity decimal.Decimal,
) (normalizedUsage, fairShareFactor decimal.Decimal) {
	score := c.usageScore(usage, resourceWeights)
	normalizedUsage = score.Div(timeCapacity)

	exponent := normalizedUsage.Neg().Div(weight)
	if exponent.GreaterThan(maxFactorExponent) {
		exponent = maxFactorExponent
	}
	if exponent.LessThan(minFactorExponent) {
		exponent = minFactorExponent
	}

	f, _ := exponent.Float64()
	fairShareFactor = decimal.NewFromFloat(math.Exp2(f))
	if fairShareFactor.GreaterThan(decimal.NewFromInt(1)) {
		fairShareFactor = decimal.NewFromInt(1)
	}
	if fairShareFactor.IsNegative() {
		fairShareFactor = decimal.Zero
	}
	return normalizedUsage, fairShareFactor
}

// TimeCapacity returns the normalization denominator for the given
// half-life.
func TimeCapacity(halfLifeDays int) decimal.Decimal {
	return decimal.NewFromInt(int64(halfLifeDays)).Mul(secondsPerDay)
}

// usageScore is the weighted average of the usage vector. Resources missing
// from the weight table count with weight 1.
func (c *Calculator) usageScore(
	usage schedulerobjects.ResourceSlot,
	resourceWeights schedulerobjects.ResourceSlot,
) decimal.Decimal {
	totalScore := decimal.Zero
	totalWeight := decimal.Zero
	for _, resource := range usage.Keys() {
		weight, ok := resourceWeights[resource]
		if !ok {
			weight = decimal.NewFromInt(1)
		}
		totalScore = totalScore.Add(usage.Get(resource).Mul(weight))
		totalWeight = totalWeight.Add(weight)
	}
	if totalWeight.IsPositive() {
		return totalScore.Div(totalWeight)
	}
	return decimal.Zero
}
