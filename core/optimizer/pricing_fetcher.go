package optimizer

import (
	"context"
	"sync"
	"time"

	"github.com/rslifka/elasticity-sub000/core/models"
)

// DefaultCacheTTL is how long a fetched price is reused
const DefaultCacheTTL = 15 * time.Minute

// PriceSource looks up the on-demand hourly price of an instance type
type PriceSource interface {
	OnDemandPrice(ctx context.Context, region, instanceType string) (float64, error)
}

type priceKey struct {
	region       string
	instanceType string
}

// PricingFetcher caches prices from a PriceSource. It is safe for concurrent use.
type PricingFetcher struct {
	source   PriceSource
	cacheTTL time.Duration
	now      func() time.Time

	mu     sync.RWMutex
	prices map[priceKey]models.InstancePrice
}

// NewPricingFetcher creates a caching fetcher in front of source
func NewPricingFetcher(source PriceSource, cacheTTL time.Duration) *PricingFetcher {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &PricingFetcher{
		source:   source,
		cacheTTL: cacheTTL,
		now:      time.Now,
		prices:   make(map[priceKey]models.InstancePrice),
	}
}

// OnDemandPrice implements PriceSource, serving fresh cached prices
func (pf *PricingFetcher) OnDemandPrice(ctx context.Context, region, instanceType string) (float64, error) {
	key := priceKey{region: region, instanceType: instanceType}

	pf.mu.RLock()
	cached, ok := pf.prices[key]
	pf.mu.RUnlock()
	if ok && pf.now().Sub(cached.LastUpdated) < pf.cacheTTL {
		return cached.PricePerHour, nil
	}

	price, err := pf.source.OnDemandPrice(ctx, region, instanceType)
	if err != nil {
		return 0, err
	}

	pf.mu.Lock()
	pf.prices[key] = models.InstancePrice{
		InstanceType: instanceType,
		Region:       region,
		PricePerHour: price,
		LastUpdated:  pf.now(),
	}
	pf.mu.Unlock()
	return price, nil
}

// Prices returns a snapshot of the cached prices
func (pf *PricingFetcher) Prices() []models.InstancePrice {
	pf.mu.RLock()
	defer pf.mu.RUnlock()

	prices := make([]models.InstancePrice, 0, len(pf.prices))
	for _, p := range pf.prices {
		prices = append(prices, p)
	}
	return prices
}
