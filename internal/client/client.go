// Package client is a thin dialer for the wire protocol: Produce an
// opaque payload, Fetch a byte range back by offset.
package client

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"offsetlog/internal/wire"
)

type Config struct {
	BrokerAddr string
}

type Client struct {
	Config Config
	conn   net.Conn

	correlationID atomic.Int32
}

func Dial(cfg Config) (*Client, error) {
	conn, err := net.DialTimeout("tcp", cfg.BrokerAddr, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return &Client{Config: cfg, conn: conn}, nil
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Produce sends payload as one record and returns the offset it was
// assigned.
func (c *Client) Produce(payload []byte) (uint64, error) {
	if err := c.sendRequest(wire.ApiKeyProduce, payload); err != nil {
		return 0, err
	}

	respBody, err := c.readResponse()
	if err != nil {
		return 0, err
	}
	if len(respBody) < 8 {
		return 0, fmt.Errorf("produce response too short: %d bytes", len(respBody))
	}
	return binary.BigEndian.Uint64(respBody), nil
}

// Fetch requests up to maxBytes of whole records starting at offset.
func (c *Client) Fetch(offset uint64, maxBytes int32) ([]byte, error) {
	reqBody := make([]byte, 12)
	binary.BigEndian.PutUint64(reqBody[0:8], offset)
	binary.BigEndian.PutUint32(reqBody[8:12], uint32(maxBytes))

	if err := c.sendRequest(wire.ApiKeyFetch, reqBody); err != nil {
		return nil, err
	}
	return c.readResponse()
}

func (c *Client) sendRequest(apiKey int16, body []byte) error {
	const headerSize = 2 + 4 // ApiKey + CorrelationID
	totalSize := headerSize + len(body)

	buf := make([]byte, 4+totalSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(totalSize))

	offset := 4
	binary.BigEndian.PutUint16(buf[offset:], uint16(apiKey))
	offset += 2
	binary.BigEndian.PutUint32(buf[offset:], uint32(c.correlationID.Add(1)))
	offset += 4
	copy(buf[offset:], body)

	_, err := c.conn.Write(buf)
	return err
}

func (c *Client) readResponse() ([]byte, error) {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(c.conn, sizeBuf[:]); err != nil {
		return nil, err
	}
	size := int32(binary.BigEndian.Uint32(sizeBuf[:]))

	data := make([]byte, size)
	if _, err := io.ReadFull(c.conn, data); err != nil {
		return nil, err
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("response too short")
	}
	// data[0:4] is the echoed correlation ID; this client issues requests
	// one at a time over a single connection, so it is not matched against
	// a pending-request table.
	return data[4:], nil
}
