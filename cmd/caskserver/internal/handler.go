package internal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"

	"github.com/ananthvk/caskdb/internal/protocol"
)

func sendResponse(resp *protocol.Response, writer *bufio.Writer) error {
	buf, err := protocol.EncodeResponse(resp)
	if err != nil {
		slog.Error("error serializing response", "err", err)
		return err
	}
	if _, err := writer.Write(buf); err != nil {
		return err
	}
	return writer.Flush()
}

func errorResponse(format string, args ...any) *protocol.Response {
	return &protocol.Response{
		Status: protocol.StatusErr,
		Values: [][]byte{fmt.Appendf(nil, format, args...)},
	}
}

func (kvStore *KVStore) Handle(conn net.Conn) {
	slog.Info("client connected", "remote_address", conn.RemoteAddr().String())
	defer func() {
		slog.Info("client disconnected", "remote_address", conn.RemoteAddr().String())
	}()
	defer conn.Close()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	// Process requests
	for {
		cmd, err := protocol.DecodeCommand(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) && errors.Is(err, protocol.ErrProtocol) {
				sendResponse(errorResponse("bad request: %s", err), writer)
			}
			break
		}

		commandFunc, exists := Commands[strings.ToUpper(cmd.Name)]
		if !exists {
			if err := sendResponse(errorResponse("unknown command '%s'", cmd.Name), writer); err != nil {
				break
			}
			continue
		}
		result := commandFunc(cmd.Args, kvStore)
		if err := sendResponse(result, writer); err != nil {
			break
		}
	}
}
