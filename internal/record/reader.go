package record

import (
	"hash/crc32"
	"io"
	"os"

	"github.com/spf13/afero"
)

// Reader performs positional reads of values and records from a segment file.
// The underlying reads go through ReadAt, so a Reader is safe for concurrent use
// by multiple goroutines
type Reader struct {
	fs   afero.Fs
	file afero.File
}

// NewReader creates a new record Reader for the file at the specified path
func NewReader(fs afero.Fs, path string) (*Reader, error) {
	file, err := fs.OpenFile(path, os.O_RDONLY, 0666)
	if err != nil {
		return nil, err
	}
	return &Reader{
		fs:   fs,
		file: file,
	}, nil
}

// ReadValueAt reads exactly size bytes starting at the given value offset. The offset
// must point at the first byte of a value, as recorded in the key directory
func (r *Reader) ReadValueAt(valueOffset int64, size uint32) ([]byte, error) {
	value := make([]byte, size)
	if _, err := r.file.ReadAt(value, valueOffset); err != nil {
		return nil, err
	}
	return value, nil
}

// ReadRecordAt reads a full record starting at the given record offset and verifies
// its checksum
func (r *Reader) ReadRecordAt(recordOffset int64) (*Record, error) {
	var headerBuf [HeaderSize]byte
	if _, err := r.file.ReadAt(headerBuf[:], recordOffset); err != nil {
		return nil, err
	}
	header, err := decodeHeader(headerBuf[:])
	if err != nil {
		return nil, err
	}

	payload := make([]byte, payloadSize(header))
	if _, err := r.file.ReadAt(payload, recordOffset+HeaderSize); err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	h := crc32.NewIEEE()
	h.Write(headerBuf[4:])
	h.Write(payload)
	if h.Sum32() != header.Checksum {
		return nil, ErrChecksumMismatch
	}

	rec := &Record{
		Header: header,
		Key:    payload[:header.KeySize],
		Size:   int64(HeaderSize + len(payload)),
	}
	if !rec.IsTombstone() {
		rec.Value = payload[header.KeySize:]
	}
	return rec, nil
}

// Close closes the underlying file
func (r *Reader) Close() error {
	return r.file.Close()
}
