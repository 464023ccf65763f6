package aws

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// UnavailableInstanceTypesError lists instance types not offered in a region
type UnavailableInstanceTypesError struct {
	Region string
	Types  []string
}

func (e *UnavailableInstanceTypesError) Error() string {
	return fmt.Sprintf("instance types not offered in %s: %s", e.Region, strings.Join(e.Types, ", "))
}

// CheckInstanceTypes verifies that every instance type is offered in
// region. It returns *UnavailableInstanceTypesError naming the missing ones.
func (c *Client) CheckInstanceTypes(ctx context.Context, region string, instanceTypes []string) error {
	if len(instanceTypes) == 0 {
		return nil
	}
	if region == "" {
		region = c.region
	}

	wanted := make(map[string]bool, len(instanceTypes))
	for _, t := range instanceTypes {
		wanted[t] = true
	}
	names := make([]string, 0, len(wanted))
	for t := range wanted {
		names = append(names, t)
	}
	sort.Strings(names)

	input := &ec2.DescribeInstanceTypeOfferingsInput{
		LocationType: types.LocationTypeRegion,
		Filters: []types.Filter{
			{
				Name:   aws.String("instance-type"),
				Values: names,
			},
		},
	}

	offered := make(map[string]bool)
	for {
		result, err := c.ec2Client.DescribeInstanceTypeOfferings(ctx, input, func(o *ec2.Options) {
			o.Region = region
		})
		if err != nil {
			return fmt.Errorf("failed to describe instance type offerings in %s: %w", region, err)
		}
		for _, offering := range result.InstanceTypeOfferings {
			offered[string(offering.InstanceType)] = true
		}
		if aws.ToString(result.NextToken) == "" {
			break
		}
		input.NextToken = result.NextToken
	}

	var missing []string
	for _, name := range names {
		if !offered[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &UnavailableInstanceTypesError{Region: region, Types: missing}
	}
	return nil
}
