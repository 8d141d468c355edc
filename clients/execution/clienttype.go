package execution

import (
	"strings"
)

// ClientType identifies the node implementation behind an endpoint. It is reported in
// logs and as a metrics label.
type ClientType int8

const (
	UnknownClient ClientType = iota
	BesuClient
	ErigonClient
	EthereumjsClient
	GethClient
	NethermindClient
	RethClient
)

var clientTypeNames = map[ClientType]string{
	BesuClient:       "besu",
	ErigonClient:     "erigon",
	EthereumjsClient: "ethereumjs",
	GethClient:       "geth",
	NethermindClient: "nethermind",
	RethClient:       "reth",
}

// ParseClientVersion maps a web3_clientVersion string like "Geth/v1.16.3-stable/..." to its client type.
func ParseClientVersion(version string) ClientType {
	name, _, _ := strings.Cut(version, "/")
	name = strings.ToLower(name)

	for clientType, typeName := range clientTypeNames {
		if typeName == name {
			return clientType
		}
	}
	return UnknownClient
}

func (clientType ClientType) String() string {
	if name, ok := clientTypeNames[clientType]; ok {
		return name
	}
	return "unknown"
}
