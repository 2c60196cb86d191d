package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// StatusOK indicates the command succeeded; Values hold the result payload
	StatusOK = byte('+')
	// StatusErr indicates the command failed; Values hold a single error message
	StatusErr = byte('-')
	// StatusNil indicates a lookup miss; Values are empty
	StatusNil = byte('_')
)

// Response is the server's reply to one command
type Response struct {
	Status byte
	Values [][]byte
}

// EncodeResponse serializes a response as:
//
//	<status:byte><count:uint32><value...>
//
// where every value is length-prefixed with a uint32, big-endian
func EncodeResponse(resp *Response) ([]byte, error) {
	if len(resp.Values) > maxArgs {
		return nil, fmt.Errorf("%w: too many response values", ErrProtocol)
	}
	size := 1 + 4
	for _, value := range resp.Values {
		size += 4 + len(value)
	}
	buf := make([]byte, 0, size)

	buf = append(buf, resp.Status)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(resp.Values)))
	for _, value := range resp.Values {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(value)))
		buf = append(buf, value...)
	}
	return buf, nil
}

// DecodeResponse reads and decodes a single response from the reader
func DecodeResponse(r io.Reader) (*Response, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	status := header[0]
	if status != StatusOK && status != StatusErr && status != StatusNil {
		return nil, fmt.Errorf("%w: unknown status byte %q", ErrProtocol, status)
	}
	count := binary.BigEndian.Uint32(header[1:])
	if count > maxArgs {
		return nil, fmt.Errorf("%w: too many response values (%d)", ErrProtocol, count)
	}

	values := make([][]byte, count)
	for i := range values {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, err
		}
		valueLen := binary.BigEndian.Uint32(lenBuf[:])
		if valueLen > maxArgSize {
			return nil, fmt.Errorf("%w: response value too large (%d bytes)", ErrProtocol, valueLen)
		}
		values[i] = make([]byte, valueLen)
		if _, err := io.ReadFull(r, values[i]); err != nil {
			return nil, err
		}
	}

	return &Response{Status: status, Values: values}, nil
}
