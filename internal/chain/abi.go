// Package chain encodes trade calls for the Somnia contracts and talks to the
// RPC node on behalf of the backend agent.
package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const routerABIJSON = `[
  {"type":"function","name":"executeTrade","stateMutability":"payable",
   "inputs":[
     {"name":"account","type":"address"},
     {"name":"asset","type":"address"},
     {"name":"isLong","type":"bool"},
     {"name":"collateral","type":"uint256"},
     {"name":"leverageBps","type":"uint256"},
     {"name":"stopLoss","type":"uint256"},
     {"name":"takeProfit","type":"uint256"},
     {"name":"metadata","type":"bytes"}],
   "outputs":[{"name":"","type":"bytes"}]}
]`

const accountABIJSON = `[
  {"type":"function","name":"prepareTrade","stateMutability":"nonpayable",
   "inputs":[
     {"name":"config","type":"tuple","components":[
       {"name":"asset","type":"address"},
       {"name":"collateral","type":"uint256"},
       {"name":"leverageBps","type":"uint256"},
       {"name":"isLong","type":"bool"},
       {"name":"stopLoss","type":"uint256"},
       {"name":"takeProfit","type":"uint256"}]},
     {"name":"execution","type":"tuple","components":[
       {"name":"router","type":"address"},
       {"name":"value","type":"uint256"},
       {"name":"payload","type":"bytes"}]}],
   "outputs":[]},
  {"type":"function","name":"executeTrade","stateMutability":"payable","inputs":[],
   "outputs":[{"name":"","type":"bytes"}]},
  {"type":"function","name":"cancelTrade","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"hasPendingTrade","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"bool"}]}
]`

const factoryABIJSON = `[
  {"type":"function","name":"getAccountsByOwner","stateMutability":"view",
   "inputs":[{"name":"accountOwner","type":"address"}],
   "outputs":[{"name":"","type":"address[]"}]}
]`

var (
	routerABI  = mustParseABI(routerABIJSON)
	accountABI = mustParseABI(accountABIJSON)
	factoryABI = mustParseABI(factoryABIJSON)
)

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(err)
	}
	return parsed
}
