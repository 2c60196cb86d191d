package record

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/ananthvk/caskdb/internal/constants"
)

const (
	// HeaderSize is the size of the fixed portion of a record:
	// crc32 (4) + timestamp (8) + key size (4) + value size (4)
	HeaderSize = 20

	// Tombstone is the value size sentinel that marks a record as a delete.
	// It is reserved and can never be the length of a live value.
	Tombstone = ^uint32(0)
)

// Header contains metadata information about a log record
//
// Checksum is the CRC32 (IEEE) of every byte of the record after the checksum field itself.
// Timestamp is a strictly increasing write sequence number (wall clock nanoseconds,
// bumped when the clock stalls), used to resolve recovery tie-breaks.
// KeySize specifies the size in bytes of the record's key.
// ValueSize specifies the size in bytes of the record's value, or Tombstone for a delete.
type Header struct {
	Checksum  uint32
	Timestamp uint64
	KeySize   uint32
	ValueSize uint32
}

// Record represents a single key-value pair in a segment file. `Key` and `Value` can be
// empty depending upon the mode through which the record was read. Size is the total
// on-disk size of the record (header + key + value), useful for determining the start
// of the next record
type Record struct {
	Header Header
	Key    []byte
	Value  []byte
	Size   int64
}

// IsTombstone reports whether this record marks a deletion
func (r *Record) IsTombstone() bool {
	return r.Header.ValueSize == Tombstone
}

// NewPut returns a Record for a key-value write with the given timestamp
func NewPut(key []byte, value []byte, timestamp uint64) *Record {
	return &Record{
		Header: Header{
			Timestamp: timestamp,
			KeySize:   uint32(len(key)),
			ValueSize: uint32(len(value)),
		},
		Key:   key,
		Value: value,
		Size:  int64(HeaderSize + len(key) + len(value)),
	}
}

// NewTombstone returns a delete marker for the given key
func NewTombstone(key []byte, timestamp uint64) *Record {
	return &Record{
		Header: Header{
			Timestamp: timestamp,
			KeySize:   uint32(len(key)),
			ValueSize: Tombstone,
		},
		Key:  key,
		Size: int64(HeaderSize + len(key)),
	}
}

// ValueOffset returns the offset of the first value byte, given the offset of the
// start of the record in the file. Tombstones have no value bytes, but the returned
// offset still marks where a value would begin
func ValueOffset(recordOffset int64, keySize uint32) int64 {
	return recordOffset + HeaderSize + int64(keySize)
}

// Encode appends the binary representation of the record to dst and returns the
// extended slice. All integers are little-endian, and the checksum is computed over
// everything after the checksum field
func Encode(dst []byte, r *Record) []byte {
	var header [HeaderSize]byte
	binary.LittleEndian.PutUint64(header[4:], r.Header.Timestamp)
	binary.LittleEndian.PutUint32(header[12:], r.Header.KeySize)
	binary.LittleEndian.PutUint32(header[16:], r.Header.ValueSize)

	h := crc32.NewIEEE()
	h.Write(header[4:])
	h.Write(r.Key)
	h.Write(r.Value)
	binary.LittleEndian.PutUint32(header[0:], h.Sum32())

	dst = append(dst, header[:]...)
	dst = append(dst, r.Key...)
	dst = append(dst, r.Value...)
	return dst
}

// decodeHeader parses a record header from buf and validates the size fields against
// the configured limits. It does not verify the checksum, since the key and value
// bytes are needed for that
func decodeHeader(buf []byte) (Header, error) {
	header := Header{
		Checksum:  binary.LittleEndian.Uint32(buf[0:]),
		Timestamp: binary.LittleEndian.Uint64(buf[4:]),
		KeySize:   binary.LittleEndian.Uint32(buf[12:]),
		ValueSize: binary.LittleEndian.Uint32(buf[16:]),
	}
	// Check if key / value size are within the set maximum values
	// This is to detect corruption to the header (i.e. if the size gets corrupted
	// and it becomes a very huge value)
	if header.KeySize > constants.MaxKeySize {
		return Header{}, ErrKeyTooLarge
	}
	if header.ValueSize != Tombstone && header.ValueSize > constants.MaxValueSize {
		return Header{}, ErrValueTooLarge
	}
	return header, nil
}

// payloadSize returns the number of bytes following the header for this record
func payloadSize(h Header) int {
	if h.ValueSize == Tombstone {
		return int(h.KeySize)
	}
	return int(h.KeySize + h.ValueSize)
}
