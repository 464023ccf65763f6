package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/aws/aws-sdk-go-v2/service/pricing/types"
)

// ErrNoPrice is returned when the price list has no on-demand price
var ErrNoPrice = errors.New("no on-demand price found")

// priceListItem is the subset of a price list product document we read
type priceListItem struct {
	Terms struct {
		OnDemand map[string]struct {
			PriceDimensions map[string]struct {
				Unit         string            `json:"unit"`
				PricePerUnit map[string]string `json:"pricePerUnit"`
			} `json:"priceDimensions"`
		} `json:"OnDemand"`
	} `json:"terms"`
}

// OnDemandPrice returns the hourly USD price of a shared-tenancy Linux
// instance of instanceType in region
func (c *Client) OnDemandPrice(ctx context.Context, region, instanceType string) (float64, error) {
	input := &pricing.GetProductsInput{
		ServiceCode: aws.String("AmazonEC2"),
		Filters: []types.Filter{
			termMatch("instanceType", instanceType),
			termMatch("regionCode", region),
			termMatch("operatingSystem", "Linux"),
			termMatch("tenancy", "Shared"),
			termMatch("preInstalledSw", "NA"),
			termMatch("capacitystatus", "Used"),
		},
		FormatVersion: aws.String("aws_v1"),
		MaxResults:    aws.Int32(10),
	}

	result, err := c.pricingClient.GetProducts(ctx, input)
	if err != nil {
		return 0, fmt.Errorf("failed to get products: %w", err)
	}

	for _, doc := range result.PriceList {
		price, ok, err := parseOnDemandPrice(doc)
		if err != nil {
			return 0, err
		}
		if ok {
			return price, nil
		}
	}
	return 0, fmt.Errorf("%w for %s in %s", ErrNoPrice, instanceType, region)
}

func termMatch(field, value string) types.Filter {
	return types.Filter{
		Type:  types.FilterTypeTermMatch,
		Field: aws.String(field),
		Value: aws.String(value),
	}
}

// parseOnDemandPrice extracts the first non-zero hourly USD price
func parseOnDemandPrice(doc string) (float64, bool, error) {
	var item priceListItem
	if err := json.Unmarshal([]byte(doc), &item); err != nil {
		return 0, false, fmt.Errorf("failed to decode price list item: %w", err)
	}
	for _, term := range item.Terms.OnDemand {
		for _, dim := range term.PriceDimensions {
			if dim.Unit != "Hrs" {
				continue
			}
			usd, ok := dim.PricePerUnit["USD"]
			if !ok {
				continue
			}
			price, err := strconv.ParseFloat(usd, 64)
			if err != nil {
				return 0, false, fmt.Errorf("invalid price %q: %w", usd, err)
			}
			if price > 0 {
				return price, true, nil
			}
		}
	}
	return 0, false, nil
}
