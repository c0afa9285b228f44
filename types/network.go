package types

// Network represents a blockchain a payment order can be settled on.
type Network string

const (
	NetworkEthereum Network = "ethereum"
	NetworkPolygon  Network = "polygon"
	NetworkBase     Network = "base"

	// Testnets
	NetworkSepolia     Network = "sepolia"
	NetworkPolygonAmoy Network = "polygon-amoy"
	NetworkBaseSepolia Network = "base-sepolia"
)

// chainIDToNetwork is the fixed lookup from a provider-reported numeric
// chain id to a network. Chains absent from this table resolve to no
// network; payment flows that require one must reject that case.
var chainIDToNetwork = map[uint64]Network{
	1:        NetworkEthereum,
	137:      NetworkPolygon,
	8453:     NetworkBase,
	11155111: NetworkSepolia,
	80002:    NetworkPolygonAmoy,
	84532:    NetworkBaseSepolia,
}

var networkToChainID = func() map[Network]uint64 {
	m := make(map[Network]uint64, len(chainIDToNetwork))
	for id, n := range chainIDToNetwork {
		m[n] = id
	}
	return m
}()

// NetworkFromChainID maps a numeric chain id to its network.
// The second return is false for unrecognized chains.
func NetworkFromChainID(chainID uint64) (Network, bool) {
	n, ok := chainIDToNetwork[chainID]
	return n, ok
}

// ChainID returns the numeric chain id for the network.
func (n Network) ChainID() (uint64, bool) {
	id, ok := networkToChainID[n]
	return id, ok
}

func (n Network) String() string {
	return string(n)
}

// Valid reports whether the network is one of the supported enumerations.
func (n Network) Valid() bool {
	_, ok := networkToChainID[n]
	return ok
}

// IsTestnet reports whether the network is a test network.
func (n Network) IsTestnet() bool {
	switch n {
	case NetworkSepolia, NetworkPolygonAmoy, NetworkBaseSepolia:
		return true
	default:
		return false
	}
}

// SupportedNetworks returns the closed set of networks orders may target.
func SupportedNetworks() []Network {
	return []Network{
		NetworkEthereum, NetworkPolygon, NetworkBase,
		NetworkSepolia, NetworkPolygonAmoy, NetworkBaseSepolia,
	}
}
