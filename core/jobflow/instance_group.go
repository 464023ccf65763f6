package jobflow

import (
	"strconv"

	"github.com/rslifka/elasticity-sub000/core/canonical"
	"github.com/rslifka/elasticity-sub000/core/models"
)

// Role is the function of an instance group within a cluster
type Role string

const (
	RoleMaster Role = "MASTER"
	RoleCore   Role = "CORE"
	RoleTask   Role = "TASK"
)

// DefaultInstanceType is used for every group unless set otherwise
const DefaultInstanceType = "m1.small"

// InstanceGroup is a pool of identical machines with one role.
// A MASTER group always has exactly one instance.
type InstanceGroup struct {
	count    int
	role     Role
	typ      string
	market   models.Market
	bidPrice float64
	ebs      *EBSConfiguration
}

// NewInstanceGroup returns a single on-demand CORE instance of the default type
func NewInstanceGroup() *InstanceGroup {
	return &InstanceGroup{
		count:  1,
		role:   RoleCore,
		typ:    DefaultInstanceType,
		market: models.MarketOnDemand,
	}
}

// Count returns the number of instances in the group
func (g *InstanceGroup) Count() int {
	return g.count
}

// SetCount changes the number of instances
func (g *InstanceGroup) SetCount(count int) error {
	if count < 1 {
		return validationError("instance groups require at least 1 instance (%d requested)", count)
	}
	if g.role == RoleMaster && count != 1 {
		return validationError("MASTER instance groups can only have 1 instance (%d requested)", count)
	}
	g.count = count
	return nil
}

// Role returns the group role
func (g *InstanceGroup) Role() Role {
	return g.role
}

// SetRole changes the group role. Switching to MASTER resets the count to 1.
func (g *InstanceGroup) SetRole(role Role) error {
	switch role {
	case RoleMaster:
		g.count = 1
	case RoleCore, RoleTask:
	default:
		return validationError("role must be one of MASTER, CORE or TASK (%s was requested)", role)
	}
	g.role = role
	return nil
}

// Type returns the machine type
func (g *InstanceGroup) Type() string {
	return g.typ
}

// SetType changes the machine type
func (g *InstanceGroup) SetType(instanceType string) {
	g.typ = instanceType
}

// Market returns ON_DEMAND or SPOT
func (g *InstanceGroup) Market() models.Market {
	return g.market
}

// BidPrice is the spot bid in USD per hour, zero for on-demand groups
func (g *InstanceGroup) BidPrice() float64 {
	return g.bidPrice
}

// SetSpotInstances buys the group on the spot market at bidPrice
func (g *InstanceGroup) SetSpotInstances(bidPrice float64) error {
	if bidPrice <= 0 {
		return validationError("the bid price for spot instances should be greater than 0 (%v requested)", bidPrice)
	}
	g.market = models.MarketSpot
	g.bidPrice = bidPrice
	return nil
}

// SetOnDemandInstances buys the group on demand
func (g *InstanceGroup) SetOnDemandInstances() {
	g.market = models.MarketOnDemand
	g.bidPrice = 0
}

// SetEBSConfiguration attaches EBS volumes to every instance of the group
func (g *InstanceGroup) SetEBSConfiguration(ebs *EBSConfiguration) {
	g.ebs = ebs
}

// EBSConfiguration returns the attached EBS configuration, if any
func (g *InstanceGroup) EBSConfiguration() *EBSConfiguration {
	return g.ebs
}

// AWSInstanceConfig renders the group as an instance group descriptor
func (g *InstanceGroup) AWSInstanceConfig() canonical.Params {
	config := canonical.Params{
		"market":         string(g.market),
		"instance_count": g.count,
		"instance_type":  g.typ,
		"instance_role":  string(g.role),
	}
	if g.market == models.MarketSpot {
		config["bid_price"] = strconv.FormatFloat(g.bidPrice, 'f', -1, 64)
	}
	if g.ebs != nil {
		config["ebs_configuration"] = g.ebs.AWSConfig()
	}
	return config
}

func (g *InstanceGroup) clone() *InstanceGroup {
	c := *g
	return &c
}

// EBSBlockDevice describes a set of identical volumes per instance
type EBSBlockDevice struct {
	VolumeType         string `yaml:"volume_type"`
	SizeInGB           int    `yaml:"size_in_gb"`
	IOPS               int    `yaml:"iops"`
	VolumesPerInstance int    `yaml:"volumes_per_instance"`
}

// EBSConfiguration is the EBS layout of an instance group
type EBSConfiguration struct {
	Devices   []EBSBlockDevice `yaml:"devices"`
	Optimized bool             `yaml:"optimized"`
}

// AWSConfig renders the EBS configuration descriptor
func (e *EBSConfiguration) AWSConfig() canonical.Params {
	devices := make([]canonical.Params, 0, len(e.Devices))
	for _, d := range e.Devices {
		spec := canonical.Params{
			"volume_type": d.VolumeType,
			// The wire name keeps the upper-case unit, which snake_case cannot express.
			"SizeInGB": d.SizeInGB,
		}
		if d.IOPS > 0 {
			spec["iops"] = d.IOPS
		}
		perInstance := d.VolumesPerInstance
		if perInstance < 1 {
			perInstance = 1
		}
		devices = append(devices, canonical.Params{
			"volume_specification": spec,
			"volumes_per_instance": perInstance,
		})
	}
	return canonical.Params{
		"ebs_block_device_configs": devices,
		"ebs_optimized":            e.Optimized,
	}
}
