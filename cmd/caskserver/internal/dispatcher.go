package internal

import "github.com/ananthvk/caskdb/internal/protocol"

type CommandFunc func(args [][]byte, store *KVStore) *protocol.Response

var Commands = map[string]CommandFunc{
	"PING":  handlePing,
	"ECHO":  handleEcho,
	"GET":   handleGet,
	"SET":   handleSet,
	"DEL":   handleDel,
	"MSET":  handleMSet,
	"RANGE": handleRange,
	"KEYS":  handleKeys,
	"MERGE": handleMerge,
}
