package ethrpc

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// colonyABIJSON covers the events and views the ledger reads from a colony contract.
const colonyABIJSON = `[
{"type":"event","name":"ColonyInitialised","anonymous":false,"inputs":[
 {"name":"agent","type":"address","indexed":false},
 {"name":"colonyNetwork","type":"address","indexed":false},
 {"name":"token","type":"address","indexed":false}]},
{"type":"event","name":"ColonyFundsClaimed","anonymous":false,"inputs":[
 {"name":"agent","type":"address","indexed":false},
 {"name":"token","type":"address","indexed":true},
 {"name":"fee","type":"uint256","indexed":false},
 {"name":"payoutRemainder","type":"uint256","indexed":false}]},
{"type":"event","name":"PayoutClaimed","anonymous":false,"inputs":[
 {"name":"agent","type":"address","indexed":false},
 {"name":"fundingPotId","type":"uint256","indexed":true},
 {"name":"token","type":"address","indexed":true},
 {"name":"amount","type":"uint256","indexed":false}]},
{"type":"event","name":"DomainAdded","anonymous":false,"inputs":[
 {"name":"agent","type":"address","indexed":false},
 {"name":"domainId","type":"uint256","indexed":false}]},
{"type":"event","name":"ColonyFundsMovedBetweenFundingPots","anonymous":false,"inputs":[
 {"name":"agent","type":"address","indexed":false},
 {"name":"fromPot","type":"uint256","indexed":true},
 {"name":"toPot","type":"uint256","indexed":true},
 {"name":"amount","type":"uint256","indexed":false},
 {"name":"token","type":"address","indexed":false}]},
{"type":"event","name":"TokensMinted","anonymous":false,"inputs":[
 {"name":"agent","type":"address","indexed":false},
 {"name":"who","type":"address","indexed":false},
 {"name":"amount","type":"uint256","indexed":false}]},
{"type":"event","name":"ColonyRoleSet","anonymous":false,"inputs":[
 {"name":"agent","type":"address","indexed":false},
 {"name":"user","type":"address","indexed":true},
 {"name":"domainId","type":"uint256","indexed":true},
 {"name":"role","type":"uint8","indexed":true},
 {"name":"setTo","type":"bool","indexed":false}]},
{"type":"event","name":"PaymentAdded","anonymous":false,"inputs":[
 {"name":"agent","type":"address","indexed":false},
 {"name":"paymentId","type":"uint256","indexed":false}]},
{"type":"function","name":"getFundingPot","stateMutability":"view","inputs":[
 {"name":"_id","type":"uint256"}],"outputs":[
 {"name":"associatedType","type":"uint8"},
 {"name":"associatedTypeId","type":"uint256"},
 {"name":"payoutsWeCannotMake","type":"uint256"}]},
{"type":"function","name":"getPayment","stateMutability":"view","inputs":[
 {"name":"_id","type":"uint256"}],"outputs":[
 {"name":"payment","type":"tuple","components":[
  {"name":"recipient","type":"address"},
  {"name":"finalized","type":"bool"},
  {"name":"fundingPotId","type":"uint256"},
  {"name":"domainId","type":"uint256"},
  {"name":"skills","type":"uint256[]"}]}]},
{"type":"function","name":"getNonRewardPotsTotal","stateMutability":"view","inputs":[
 {"name":"_token","type":"address"}],"outputs":[
 {"name":"","type":"uint256"}]},
{"type":"function","name":"getFundingPotBalance","stateMutability":"view","inputs":[
 {"name":"_potId","type":"uint256"},
 {"name":"_token","type":"address"}],"outputs":[
 {"name":"","type":"uint256"}]}
]`

const erc20ABIJSON = `[
{"type":"event","name":"Transfer","anonymous":false,"inputs":[
 {"name":"src","type":"address","indexed":true},
 {"name":"dst","type":"address","indexed":true},
 {"name":"wad","type":"uint256","indexed":false}]}
]`

var (
	colonyABI = mustParseABI(colonyABIJSON)
	erc20ABI  = mustParseABI(erc20ABIJSON)
)

// paymentResult mirrors the getPayment tuple so abi.ConvertType can copy into it.
type paymentResult struct {
	Recipient    common.Address
	Finalized    bool
	FundingPotId *big.Int
	DomainId     *big.Int
	Skills       []*big.Int
}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
