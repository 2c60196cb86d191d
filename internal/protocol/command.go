package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const maxArgs = 1 << 16
const maxArgSize = 128 * 1024 * 1024

var ErrProtocol = errors.New("protocol error")

// Command represents a decoded client command received by the server.
//
// A Command consists of a command name (Name) and a list of raw byte arguments.
// The meaning of the arguments depends on the command (e.g. GET takes one key,
// SET takes a key and a value, RANGE takes two keys)
type Command struct {
	Name string
	Args [][]byte
}

// EncodeCommand serializes a client command into its wire format.
//
// The command is encoded as:
//
//	<name_len:uint8><argc:uint32><name><arg...>
//
// where every argument is itself length-prefixed with a uint32. All integer
// fields use big-endian byte order, and the command name is limited to 255 bytes.
//
// The returned byte slice is suitable for writing directly to a TCP connection
func EncodeCommand(name string, args ...[]byte) ([]byte, error) {
	if len(name) == 0 || len(name) > 255 {
		return nil, fmt.Errorf("%w: bad command name length %d", ErrProtocol, len(name))
	}
	if len(args) > maxArgs {
		return nil, fmt.Errorf("%w: too many arguments", ErrProtocol)
	}

	size := 1 + 4 + len(name)
	for _, arg := range args {
		size += 4 + len(arg)
	}
	buf := make([]byte, 0, size)

	buf = append(buf, uint8(len(name)))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(args)))
	buf = append(buf, name...)
	for _, arg := range args {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(arg)))
		buf = append(buf, arg...)
	}
	return buf, nil
}

// DecodeCommand reads and decodes a single command from the reader.
//
// It blocks until the full command has been read or an error occurs. io.EOF is
// returned unchanged when the connection closes cleanly between commands
func DecodeCommand(r io.Reader) (*Command, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:1]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, header[1:]); err != nil {
		return nil, err
	}
	nameLen := int(header[0])
	argc := binary.BigEndian.Uint32(header[1:])
	if nameLen == 0 {
		return nil, fmt.Errorf("%w: empty command name", ErrProtocol)
	}
	if argc > maxArgs {
		return nil, fmt.Errorf("%w: too many arguments (%d)", ErrProtocol, argc)
	}

	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return nil, err
	}

	args := make([][]byte, argc)
	for i := range args {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, err
		}
		argLen := binary.BigEndian.Uint32(lenBuf[:])
		if argLen > maxArgSize {
			return nil, fmt.Errorf("%w: argument too large (%d bytes)", ErrProtocol, argLen)
		}
		args[i] = make([]byte, argLen)
		if _, err := io.ReadFull(r, args[i]); err != nil {
			return nil, err
		}
	}

	return &Command{
		Name: string(name),
		Args: args,
	}, nil
}
