package internal

import (
	"errors"

	"github.com/ananthvk/caskdb"
	"github.com/ananthvk/caskdb/internal/protocol"
)

func okResponse(values ...[]byte) *protocol.Response {
	return &protocol.Response{Status: protocol.StatusOK, Values: values}
}

func handlePing(args [][]byte, store *KVStore) *protocol.Response {
	switch len(args) {
	case 0:
		return okResponse([]byte("PONG"))
	case 1:
		return okResponse(args[0])
	default:
		return errorResponse("wrong number of arguments for 'PING' command")
	}
}

func handleEcho(args [][]byte, store *KVStore) *protocol.Response {
	if len(args) != 1 {
		return errorResponse("wrong number of arguments for 'ECHO' command")
	}
	return okResponse(args[0])
}

func handleGet(args [][]byte, store *KVStore) *protocol.Response {
	if len(args) != 1 {
		return errorResponse("wrong number of arguments for 'GET' command")
	}
	value, err := store.Store.Get(args[0])
	if err != nil {
		if errors.Is(err, caskdb.ErrKeyNotFound) {
			return &protocol.Response{Status: protocol.StatusNil}
		}
		return errorResponse("%s", err)
	}
	return okResponse(value)
}

func handleSet(args [][]byte, store *KVStore) *protocol.Response {
	if len(args) != 2 {
		return errorResponse("wrong number of arguments for 'SET' command")
	}
	if err := store.Store.Put(args[0], args[1]); err != nil {
		return errorResponse("%s", err)
	}
	return okResponse([]byte("OK"))
}

func handleDel(args [][]byte, store *KVStore) *protocol.Response {
	if len(args) != 1 {
		return errorResponse("wrong number of arguments for 'DEL' command")
	}
	if err := store.Store.Delete(args[0]); err != nil {
		if errors.Is(err, caskdb.ErrKeyNotFound) {
			return &protocol.Response{Status: protocol.StatusNil}
		}
		return errorResponse("%s", err)
	}
	return okResponse([]byte("OK"))
}

// MSET writes key value pairs as one batch append
func handleMSet(args [][]byte, store *KVStore) *protocol.Response {
	if len(args) == 0 || len(args)%2 != 0 {
		return errorResponse("wrong number of arguments for 'MSET' command")
	}
	entries := make([]caskdb.KV, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		entries = append(entries, caskdb.KV{Key: args[i], Value: args[i+1]})
	}
	if err := store.Store.BatchPut(entries); err != nil {
		return errorResponse("%s", err)
	}
	return okResponse([]byte("OK"))
}

// RANGE returns alternating keys and values for start <= key <= end
func handleRange(args [][]byte, store *KVStore) *protocol.Response {
	if len(args) != 2 {
		return errorResponse("wrong number of arguments for 'RANGE' command")
	}
	pairs, err := store.Store.Range(args[0], args[1])
	if err != nil {
		return errorResponse("%s", err)
	}
	values := make([][]byte, 0, len(pairs)*2)
	for _, pair := range pairs {
		values = append(values, pair.Key, pair.Value)
	}
	return okResponse(values...)
}

func handleKeys(args [][]byte, store *KVStore) *protocol.Response {
	if len(args) != 0 {
		return errorResponse("wrong number of arguments for 'KEYS' command")
	}
	return okResponse(store.Store.Keys()...)
}

// MERGE forces a compaction cycle
func handleMerge(args [][]byte, store *KVStore) *protocol.Response {
	if len(args) != 0 {
		return errorResponse("wrong number of arguments for 'MERGE' command")
	}
	if err := store.Store.Merge(); err != nil {
		return errorResponse("%s", err)
	}
	return okResponse([]byte("OK"))
}
