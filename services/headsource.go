package services

import "context"

type BlockNumberReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// RPCHeadSource asks the node for its head on every call. It suits one-shot commands
// that run without the execution client's head tracking loop.
type RPCHeadSource struct {
	reader BlockNumberReader
}

func NewRPCHeadSource(reader BlockNumberReader) *RPCHeadSource {
	return &RPCHeadSource{
		reader: reader,
	}
}

func (hs *RPCHeadSource) CurrentBlock(ctx context.Context) (uint64, error) {
	return hs.reader.BlockNumber(ctx)
}
