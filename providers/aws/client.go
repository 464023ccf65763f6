// Package aws wraps the AWS service clients used around job flows:
// instance type preflight checks, price lookups and S3 uploads.
package aws

import (
	"context"
	"fmt"

	"github.com/rslifka/elasticity-sub000/core/signer"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// The price list API is served from a few regions only.
const pricingRegion = "us-east-1"

// EC2API is the part of the EC2 client the preflight checks use
type EC2API interface {
	DescribeInstanceTypeOfferings(ctx context.Context, params *ec2.DescribeInstanceTypeOfferingsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceTypeOfferingsOutput, error)
}

// PricingAPI is the part of the price list client the price lookup uses
type PricingAPI interface {
	GetProducts(ctx context.Context, params *pricing.GetProductsInput, optFns ...func(*pricing.Options)) (*pricing.GetProductsOutput, error)
}

// Client is the AWS provider client
type Client struct {
	ec2Client     EC2API
	pricingClient PricingAPI
	s3Client      *s3.Client
	region        string
}

// NewClient creates AWS clients for region, authenticated with creds
func NewClient(ctx context.Context, region string, creds signer.Credentials) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(creds.Provider()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Client{
		ec2Client: ec2.NewFromConfig(cfg),
		pricingClient: pricing.NewFromConfig(cfg, func(o *pricing.Options) {
			o.Region = pricingRegion
		}),
		s3Client: s3.NewFromConfig(cfg),
		region:   region,
	}, nil
}

// NewClientWithAPIs builds a client around existing service clients
func NewClientWithAPIs(region string, ec2Client EC2API, pricingClient PricingAPI, s3Client *s3.Client) *Client {
	return &Client{
		ec2Client:     ec2Client,
		pricingClient: pricingClient,
		s3Client:      s3Client,
		region:        region,
	}
}

// Region returns the default region of the client
func (c *Client) Region() string {
	return c.region
}

// S3 returns the S3 client, for use with storage.Syncer
func (c *Client) S3() *s3.Client {
	return c.s3Client
}
