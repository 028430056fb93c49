package migration

import (
	"context"
)

// CrowdSaleContract is the artifact deployed by the 2_deploy_contract migration.
const CrowdSaleContract = "CrowdSale"

// Constructor arguments, in order. They are handed to the deployer untouched.
const (
	crowdSaleFirstAddress  = "0xf886abace837e5ec0cf7037b4d2198f7a1bf35b5"
	crowdSaleThreshold     = "137760020000000"
	crowdSaleSecondAddress = "0xe152B27c45CFA649649AACA395922C58273A6DEe"
)

// CrowdSaleArgs returns a copy of the CrowdSale constructor arguments.
func CrowdSaleArgs() []string {
	return []string{crowdSaleFirstAddress, crowdSaleThreshold, crowdSaleSecondAddress}
}

// DeployCrowdSale is migration 2: a single CrowdSale deployment.
func DeployCrowdSale() Migration {
	return Migration{
		Number: 2,
		Name:   "2_deploy_contract",
		Run: func(ctx context.Context, deployer Deployer, artifacts Artifacts) error {
			crowdSale, err := artifacts.Require(CrowdSaleContract)
			if err != nil {
				return err
			}
			_, err = deployer.Deploy(ctx, crowdSale, CrowdSaleArgs()...)
			return err
		},
	}
}
