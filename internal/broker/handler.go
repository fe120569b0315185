package broker

import (
	"context"
	"encoding/binary"
	"fmt"

	"offsetlog/internal/wire"
)

const (
	produceResponseBodySize = 8  // offset
	fetchRequestBodySize    = 12 // offset(8) + max_bytes(4)
)

func (b *Broker) handleRequest(req *wire.Request) ([]byte, error) {
	switch req.Header.ApiKey {
	case wire.ApiKeyProduce:
		return b.handleProduce(req)
	case wire.ApiKeyFetch:
		return b.handleFetch(req)
	default:
		return nil, fmt.Errorf("unknown api key: %d", req.Header.ApiKey)
	}
}

func (b *Broker) handleProduce(req *wire.Request) ([]byte, error) {
	offset, err := b.Writer.Submit(context.Background(), req.Body)
	if err != nil {
		return nil, err
	}

	resp := make([]byte, produceResponseBodySize)
	binary.BigEndian.PutUint64(resp, offset)
	return resp, nil
}

func (b *Broker) handleFetch(req *wire.Request) ([]byte, error) {
	if len(req.Body) < fetchRequestBodySize {
		return nil, fmt.Errorf("invalid fetch body size")
	}

	fetchOffset := binary.BigEndian.Uint64(req.Body[0:8])
	maxBytes := int32(binary.BigEndian.Uint32(req.Body[8:12]))

	data, err := b.Log.Fetch(fetchOffset, maxBytes)
	if err != nil {
		b.log.Warnw("fetch error", "offset", fetchOffset, "error", err)
		return []byte{}, nil
	}
	if data == nil {
		return []byte{}, nil
	}
	return data, nil
}
