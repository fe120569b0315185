package wire

import (
	"encoding/binary"
	"io"
)

const (
	correlationIDSize = 4
	framingSize       = 4
	responseHeaderSize = correlationIDSize
)

// SendResponse writes a framed response: [size(4)][correlationID(4)][body].
// The header is built on the stack to avoid an allocation per response;
// body is written straight through without an intermediate copy.
func SendResponse(w io.Writer, correlationID int32, body []byte) error {
	payloadSize := responseHeaderSize + len(body)

	var headerBuf [framingSize + responseHeaderSize]byte
	binary.BigEndian.PutUint32(headerBuf[0:framingSize], uint32(payloadSize))
	binary.BigEndian.PutUint32(headerBuf[framingSize:], uint32(correlationID))

	if _, err := w.Write(headerBuf[:]); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return err
		}
	}
	return nil
}
