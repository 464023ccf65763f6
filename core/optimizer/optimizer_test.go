package optimizer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rslifka/elasticity-sub000/core/jobflow"
	"github.com/rslifka/elasticity-sub000/core/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePrices struct {
	prices map[string]float64
	calls  int
	err    error
}

func (f *fakePrices) OnDemandPrice(_ context.Context, region, instanceType string) (float64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	price, ok := f.prices[region+"/"+instanceType]
	if !ok {
		return 0, errors.New("no price")
	}
	return price, nil
}

func TestEstimate(t *testing.T) {
	prices := &fakePrices{prices: map[string]float64{
		"us-east-1/m1.large":  0.175,
		"us-east-1/m1.xlarge": 0.35,
	}}

	jf := jobflow.New(nil)
	jf.SetMasterInstanceType("m1.large")
	jf.SetSlaveInstanceType("m1.xlarge")
	require.NoError(t, jf.SetInstanceCount(5))

	task := jobflow.NewInstanceGroup()
	task.SetType("c1.xlarge")
	require.NoError(t, task.SetCount(10))
	require.NoError(t, task.SetSpotInstances(0.1))
	require.NoError(t, jf.SetTaskInstanceGroup(context.Background(), task))

	estimate, err := NewCostEstimator(prices).Estimate(context.Background(), jf, 2)
	require.NoError(t, err)

	assert.Equal(t, "us-east-1", estimate.Region)
	require.Len(t, estimate.Lines, 3)
	assert.Equal(t, models.CostLine{
		Role:          "MASTER",
		InstanceType:  "m1.large",
		Market:        models.MarketOnDemand,
		InstanceCount: 1,
		PricePerHour:  0.175,
		HourlyCostUSD: 0.175,
	}, estimate.Lines[0])
	assert.InDelta(t, 1.4, estimate.Lines[1].HourlyCostUSD, 1e-9)
	assert.Equal(t, models.MarketSpot, estimate.Lines[2].Market)
	assert.InDelta(t, 1.0, estimate.Lines[2].HourlyCostUSD, 1e-9)
	assert.InDelta(t, 2.575, estimate.HourlyCostUSD, 1e-9)
	assert.Equal(t, 5.15, estimate.TotalCostUSD)
	// Spot groups never hit the price source.
	assert.Equal(t, 2, prices.calls)
}

func TestEstimateErrors(t *testing.T) {
	jf := jobflow.New(nil)

	_, err := NewCostEstimator(&fakePrices{}).Estimate(context.Background(), jf, -1)
	assert.Error(t, err)

	_, err = NewCostEstimator(&fakePrices{err: errors.New("throttled")}).Estimate(context.Background(), jf, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to price m1.small in us-east-1: throttled")
}

func TestPricingFetcherCaches(t *testing.T) {
	source := &fakePrices{prices: map[string]float64{"us-west-2/m1.small": 0.044}}
	pf := NewPricingFetcher(source, time.Minute)
	now := time.Date(2015, 3, 14, 9, 26, 53, 0, time.UTC)
	pf.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		price, err := pf.OnDemandPrice(context.Background(), "us-west-2", "m1.small")
		require.NoError(t, err)
		assert.Equal(t, 0.044, price)
	}
	assert.Equal(t, 1, source.calls)

	now = now.Add(2 * time.Minute)
	_, err := pf.OnDemandPrice(context.Background(), "us-west-2", "m1.small")
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)

	prices := pf.Prices()
	require.Len(t, prices, 1)
	assert.Equal(t, "m1.small", prices[0].InstanceType)
	assert.Equal(t, now, prices[0].LastUpdated)

	_, err = pf.OnDemandPrice(context.Background(), "us-west-2", "x9.huge")
	assert.Error(t, err)
	assert.Len(t, pf.Prices(), 1)
}

func TestNewPricingFetcherDefaultTTL(t *testing.T) {
	pf := NewPricingFetcher(&fakePrices{}, 0)
	assert.Equal(t, DefaultCacheTTL, pf.cacheTTL)
}
