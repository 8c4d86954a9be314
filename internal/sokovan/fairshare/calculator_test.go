package fairshare

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/lablup/sokovan/internal/sokovan/schedulerobjects"
)

func bucketOn(day time.Time, usage map[string]string) UsageBucket {
	return UsageBucket{
		ResourceGroup: "default",
		Scope:         DomainScope("default"),
		BucketDate:    day,
		Usage:         schedulerobjects.MustResourceSlot(usage),
	}
}

func TestDecayedUsageHalvesAtHalfLife(t *testing.T) {
	today := at(2024, time.January, 15, 0, 0)
	calculator := NewCalculator(nil)

	buckets := []UsageBucket{
		bucketOn(today.AddDate(0, 0, -7), map[string]string{"cpu": "7200"}),
	}
	decayed := calculator.DecayedUsage(buckets, today, 7, 28)
	assert.True(t, decayed.Equal(schedulerobjects.MustResourceSlot(map[string]string{"cpu": "3600"})),
		"got %s", decayed)
}

func TestDecayedUsageTodayIsUndecayed(t *testing.T) {
	today := at(2024, time.January, 15, 0, 0)
	calculator := NewCalculator(nil)

	buckets := []UsageBucket{
		bucketOn(today, map[string]string{"cpu": "600"}),
		// Future buckets are summed as-is rather than rejected.
		bucketOn(today.AddDate(0, 0, 1), map[string]string{"cpu": "100"}),
	}
	decayed := calculator.DecayedUsage(buckets, today, 7, 28)
	assert.True(t, decayed.Equal(schedulerobjects.MustResourceSlot(map[string]string{"cpu": "700"})))
}

func TestDecayedUsageSkipsBucketsBeyondLookback(t *testing.T) {
	today := at(2024, time.January, 15, 0, 0)
	calculator := NewCalculator(nil)

	buckets := []UsageBucket{
		bucketOn(today.AddDate(0, 0, -29), map[string]string{"cpu": "100000"}),
		bucketOn(today, map[string]string{"cpu": "600"}),
	}
	decayed := calculator.DecayedUsage(buckets, today, 7, 28)
	assert.True(t, decayed.Equal(schedulerobjects.MustResourceSlot(map[string]string{"cpu": "600"})))
}

func TestDecayedUsageIsStrictlyDecreasingWithAge(t *testing.T) {
	today := at(2024, time.January, 15, 0, 0)
	calculator := NewCalculator(nil)

	previous := decimal.NewFromInt(3601)
	for age := 1; age <= 28; age++ {
		buckets := []UsageBucket{
			bucketOn(today.AddDate(0, 0, -age), map[string]string{"cpu": "3600"}),
		}
		decayed := calculator.DecayedUsage(buckets, today, 7, 28).Get("cpu")
		assert.True(t, decayed.LessThan(previous), "age %d: %s not < %s", age, decayed, previous)
		previous = decayed
	}
}

func TestFactorIsOneWithoutUsage(t *testing.T) {
	calculator := NewCalculator(nil)
	normalized, factor := calculator.CalculateFactor(
		schedulerobjects.ResourceSlot{},
		decimal.NewFromInt(1),
		DefaultResourceWeights(),
		TimeCapacity(7),
	)
	assert.True(t, normalized.IsZero())
	assert.True(t, factor.Equal(decimal.NewFromInt(1)), "got %s", factor)
}

func TestFactorDecreasesWithUsage(t *testing.T) {
	calculator := NewCalculator(nil)
	weight := decimal.NewFromInt(1)
	capacity := TimeCapacity(7)

	previousFactor := decimal.NewFromInt(2)
	for _, cpuSeconds := range []string{"0", "3600", "86400", "604800", "6048000"} {
		usage := schedulerobjects.MustResourceSlot(map[string]string{"cpu": cpuSeconds})
		_, factor := calculator.CalculateFactor(usage, weight, DefaultResourceWeights(), capacity)
		assert.True(t, factor.LessThan(previousFactor),
			"factor %s for usage %s not below %s", factor, cpuSeconds, previousFactor)
		assert.True(t, factor.IsPositive())
		assert.True(t, factor.LessThanOrEqual(decimal.NewFromInt(1)))
		previousFactor = factor
	}
}

func TestHigherWeightGivesHigherFactor(t *testing.T) {
	calculator := NewCalculator(nil)
	usage := schedulerobjects.MustResourceSlot(map[string]string{"cpu": "604800"})
	capacity := TimeCapacity(7)

	_, lightFactor := calculator.CalculateFactor(usage, decimal.NewFromInt(1), DefaultResourceWeights(), capacity)
	_, heavyFactor := calculator.CalculateFactor(usage, decimal.NewFromInt(2), DefaultResourceWeights(), capacity)
	assert.True(t, heavyFactor.GreaterThan(lightFactor))
}

func TestFactorExponentIsClamped(t *testing.T) {
	calculator := NewCalculator(nil)
	// Usage large enough that the raw exponent would be far below -10.
	usage := schedulerobjects.MustResourceSlot(map[string]string{"cpu": "60480000000"})
	_, factor := calculator.CalculateFactor(
		usage, decimal.NewFromInt(1), DefaultResourceWeights(), TimeCapacity(7))
	assert.True(t, factor.Equal(decimal.NewFromFloat(math.Exp2(-10))), "got %s", factor)
}

func TestFactorCalculationIsDeterministic(t *testing.T) {
	calculator := NewCalculator(nil)
	usage := schedulerobjects.MustResourceSlot(map[string]string{"cpu": "86400", "mem": "1048576"})
	weight := decimal.RequireFromString("1.5")
	capacity := TimeCapacity(7)

	normalized1, factor1 := calculator.CalculateFactor(usage, weight, DefaultResourceWeights(), capacity)
	normalized2, factor2 := calculator.CalculateFactor(usage, weight, DefaultResourceWeights(), capacity)
	assert.True(t, normalized1.Equal(normalized2))
	assert.True(t, factor1.Equal(factor2))
}

func TestUsageScoreIsWeightedAverage(t *testing.T) {
	calculator := NewCalculator(nil)
	usage := schedulerobjects.MustResourceSlot(map[string]string{"cpu": "100", "mem": "100000"})
	weights := schedulerobjects.MustResourceSlot(map[string]string{"cpu": "1", "mem": "0.001"})

	// (100*1 + 100000*0.001) / (1 + 0.001)
	expected := decimal.NewFromInt(200).Div(decimal.RequireFromString("1.001"))
	assert.True(t, calculator.usageScore(usage, weights).Equal(expected))
}

func TestUsageScoreMissingWeightDefaultsToOne(t *testing.T) {
	calculator := NewCalculator(nil)
	usage := schedulerobjects.MustResourceSlot(map[string]string{"tpu.device": "50"})
	score := calculator.usageScore(usage, schedulerobjects.ResourceSlot{})
	assert.True(t, score.Equal(decimal.NewFromInt(50)))
}
