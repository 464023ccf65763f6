package optimizer

import (
	"context"
	"fmt"
	"math"

	"github.com/rslifka/elasticity-sub000/core/jobflow"
	"github.com/rslifka/elasticity-sub000/core/models"
)

// CostEstimator estimates what the instance groups of a job flow cost
type CostEstimator struct {
	prices PriceSource
}

// NewCostEstimator creates a new cost estimator
func NewCostEstimator(prices PriceSource) *CostEstimator {
	return &CostEstimator{prices: prices}
}

// Estimate prices every instance group of jf for the given number of
// hours. On-demand groups use the list price; spot groups are charged
// their bid price, the most they can cost.
func (ce *CostEstimator) Estimate(ctx context.Context, jf *jobflow.JobFlow, hours float64) (*models.CostEstimate, error) {
	if hours < 0 {
		return nil, fmt.Errorf("hours must not be negative (%v requested)", hours)
	}

	estimate := &models.CostEstimate{
		Region: jf.Region(),
		Hours:  hours,
	}

	for _, group := range jf.InstanceGroups() {
		price := group.BidPrice()
		if group.Market() != models.MarketSpot {
			var err error
			price, err = ce.prices.OnDemandPrice(ctx, estimate.Region, group.Type())
			if err != nil {
				return nil, fmt.Errorf("failed to price %s in %s: %w", group.Type(), estimate.Region, err)
			}
		}

		line := models.CostLine{
			Role:          string(group.Role()),
			InstanceType:  group.Type(),
			Market:        group.Market(),
			InstanceCount: group.Count(),
			PricePerHour:  price,
			HourlyCostUSD: price * float64(group.Count()),
		}
		estimate.Lines = append(estimate.Lines, line)
		estimate.HourlyCostUSD += line.HourlyCostUSD
	}

	estimate.TotalCostUSD = roundCents(estimate.HourlyCostUSD * hours)
	return estimate, nil
}

func roundCents(usd float64) float64 {
	return math.Round(usd*100) / 100
}
