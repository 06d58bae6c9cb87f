package business

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistributeByContribution(t *testing.T) {
	t.Run("Pro Rata Payout", func(t *testing.T) {
		result := DistributeByContribution(d("400"), []Recipient{
			{UserID: "alice", ContributionScore: d("1285")},
			{UserID: "bob", ContributionScore: d("127215")},
		})

		assertDecimal(t, "128500", result.TotalScore)
		require.Len(t, result.SuccessfulDistributions, 2)
		alice := result.SuccessfulDistributions[0]
		assert.Equal(t, "alice", alice.UserID)
		assertDecimal(t, "0.01", alice.Ratio)
		assertDecimal(t, "4", alice.AmountDistributed)
		assertDecimal(t, "396", result.SuccessfulDistributions[1].AmountDistributed)
		assertDecimal(t, "400", result.TotalAmountDistributed)
		assert.Equal(t, 2, result.RecipientsCount)
		assert.True(t, result.Retained().IsZero())
	})

	t.Run("Below Minimum Unit Is Retained", func(t *testing.T) {
		result := DistributeByContribution(d("10"), []Recipient{
			{UserID: "small", ContributionScore: d("1")},
			{UserID: "large", ContributionScore: d("999999")},
		})

		require.Len(t, result.BelowThreshold, 1)
		small := result.BelowThreshold[0]
		assert.Equal(t, "small", small.UserID)
		assertDecimal(t, "0.00001", small.AmountCalculated)
		assert.True(t, small.AmountDistributed.IsZero())

		require.Len(t, result.SuccessfulDistributions, 1)
		assertDecimal(t, "9.99", result.SuccessfulDistributions[0].AmountDistributed)
		assertDecimal(t, "9.99", result.TotalAmountDistributed)
		assertDecimal(t, "0.01", result.Retained())
		assert.Equal(t, 1, result.RecipientsCount)
	})

	t.Run("Equal Scores Truncate", func(t *testing.T) {
		result := DistributeByContribution(d("100"), []Recipient{
			{UserID: "a", ContributionScore: d("5")},
			{UserID: "b", ContributionScore: d("5")},
			{UserID: "c", ContributionScore: d("5")},
		})

		for _, a := range result.SuccessfulDistributions {
			assertDecimal(t, "33.33", a.AmountDistributed, a.UserID)
		}
		assertDecimal(t, "99.99", result.TotalAmountDistributed)
		assertDecimal(t, "0.01", result.Retained())
	})

	t.Run("Zero Total Score", func(t *testing.T) {
		result := DistributeByContribution(d("400"), []Recipient{
			{UserID: "idle", ContributionScore: decimal.Zero},
		})
		assert.Empty(t, result.SuccessfulDistributions)
		assert.Equal(t, 0, result.RecipientsCount)
		assert.True(t, result.TotalAmountDistributed.IsZero())
		assertDecimal(t, "400", result.Retained())
	})

	t.Run("No Recipients", func(t *testing.T) {
		result := DistributeByContribution(d("400"), nil)
		assert.Empty(t, result.Allocations())
		assert.True(t, result.TotalAmountDistributed.IsZero())
	})

	t.Run("Zero Pool", func(t *testing.T) {
		result := DistributeByContribution(decimal.Zero, []Recipient{{UserID: "a", ContributionScore: d("10")}})
		assert.Empty(t, result.SuccessfulDistributions)
		assert.True(t, result.TotalAmountDistributed.IsZero())
	})

	t.Run("Negative Score Is Ignored", func(t *testing.T) {
		result := DistributeByContribution(d("100"), []Recipient{
			{UserID: "good", ContributionScore: d("10")},
			{UserID: "bad", ContributionScore: d("-10")},
		})
		assertDecimal(t, "10", result.TotalScore)
		require.Len(t, result.SuccessfulDistributions, 1)
		assertDecimal(t, "100", result.SuccessfulDistributions[0].AmountDistributed)
		require.Len(t, result.BelowThreshold, 1)
		assert.True(t, result.BelowThreshold[0].AmountDistributed.IsZero())
	})

	t.Run("Sum Never Exceeds Pool", func(t *testing.T) {
		pools := []string{"0.05", "1", "7.77", "400", "1000000.01"}
		for _, pool := range pools {
			for n := 1; n <= 17; n += 4 {
				recipients := make([]Recipient, 0, n)
				for i := 0; i < n; i++ {
					recipients = append(recipients, Recipient{
						UserID:            fmt.Sprintf("u%d", i),
						ContributionScore: decimal.NewFromInt(int64(i*i + 1)).Div(d("3")),
					})
				}
				result := DistributeByContribution(d(pool), recipients)
				assert.True(t, result.TotalAmountDistributed.LessThanOrEqual(d(pool)),
					"pool %s, %d recipients, distributed %s", pool, n, result.TotalAmountDistributed)
				for _, a := range result.SuccessfulDistributions {
					assert.True(t, a.AmountDistributed.GreaterThanOrEqual(MinUnit))
					assert.True(t, a.AmountDistributed.Equal(a.AmountDistributed.Truncate(CurrencyPrecision)))
					assert.True(t, a.AmountDistributed.LessThanOrEqual(a.AmountCalculated))
				}
				assert.Len(t, result.Allocations(), n)
			}
		}
	})
}

func TestDistributionPolicy(t *testing.T) {
	policy := DistributionPolicy{MinUnit: d("1"), Precision: 0}
	result := policy.Distribute(d("10"), []Recipient{
		{UserID: "a", ContributionScore: d("2")},
		{UserID: "b", ContributionScore: d("1")},
	})
	assertDecimal(t, "6", result.SuccessfulDistributions[0].AmountDistributed)
	assertDecimal(t, "3", result.SuccessfulDistributions[1].AmountDistributed)
	assertDecimal(t, "1", result.Retained())
}
