package app

import (
	"github.com/ethereum/go-ethereum/common"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/nftsettle/pkg/app/delegate"
	"github.com/uhyunpark/nftsettle/pkg/app/exchange"
	"github.com/uhyunpark/nftsettle/pkg/app/policy"
)

// Deployment is the address book written at genesis. Addresses follow the
// deployer's nonce the same way contract creation does on a real chain.
type Deployment struct {
	Deployer      common.Address `json:"deployer"`
	Weth          common.Address `json:"weth"`
	Delegate      common.Address `json:"executionDelegate"`
	PolicyManager common.Address `json:"policyManager"`
	PolicyERC721  common.Address `json:"standardPolicyERC721"`
	PolicyERC1155 common.Address `json:"standardPolicyERC1155"`
	Exchange      common.Address `json:"exchange"`
	Pool          common.Address `json:"pool"`
	DemoERC721    common.Address `json:"demoERC721"`
	DemoERC1155   common.Address `json:"demoERC1155"`
}

// planDeployment derives every genesis contract address from deployer.
func planDeployment(deployer common.Address) Deployment {
	at := func(nonce uint64) common.Address { return ethCrypto.CreateAddress(deployer, nonce) }
	return Deployment{
		Deployer:      deployer,
		Weth:          at(0),
		Delegate:      at(1),
		PolicyManager: at(2),
		PolicyERC721:  at(3),
		PolicyERC1155: at(4),
		Exchange:      at(5),
		Pool:          at(6),
		DemoERC721:    at(7),
		DemoERC1155:   at(8),
	}
}

// directory resolves the exchange's configured addresses to the contracts
// deployed in this process.
type directory struct {
	del *delegate.Delegate
	pm  *policy.Manager
}

func (d directory) ExecutionDelegate(addr common.Address) (exchange.ExecutionDelegate, bool) {
	if d.del == nil || addr != d.del.Address() {
		return nil, false
	}
	return d.del, true
}

func (d directory) PolicyManager(addr common.Address) (exchange.PolicyManager, bool) {
	if d.pm == nil || addr != d.pm.Address() {
		return nil, false
	}
	return d.pm, true
}
