package models

import "time"

// Market is the purchase option of an instance group
type Market string

const (
	MarketOnDemand Market = "ON_DEMAND"
	MarketSpot     Market = "SPOT"
)

// InstancePrice is the hourly price of one instance type in one region
type InstancePrice struct {
	InstanceType string // "m1.small", "m3.xlarge"
	Region       string
	PricePerHour float64
	LastUpdated  time.Time // When pricing was fetched
}

// CostLine is the estimated cost of one instance group
type CostLine struct {
	Role          string
	InstanceType  string
	Market        Market
	InstanceCount int
	PricePerHour  float64
	HourlyCostUSD float64
}

// CostEstimate sums the hourly cost of every instance group in a job flow
type CostEstimate struct {
	Region        string
	Lines         []CostLine
	HourlyCostUSD float64
	Hours         float64
	TotalCostUSD  float64
}
