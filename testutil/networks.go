package testutil

import "github.com/tranvictor/jarvis/networks"

// Network is a jarvis network with a chosen chain id and name. Only the
// identity methods are implemented; anything else panics on the nil
// embedded interface, which flags an unexpected dependency in a test.
type Network struct {
	networks.Network
	ChainID uint64
	Name    string
}

// NewNetwork returns a network identity for a local chain
func NewNetwork(chainID uint64, name string) *Network {
	return &Network{ChainID: chainID, Name: name}
}

func (n *Network) GetChainID() uint64 { return n.ChainID }
func (n *Network) GetName() string    { return n.Name }
