package record

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"

	"github.com/spf13/afero"
)

const readerBufferSize = 4 * 1000 * 1000 // 4 MB

// Scanner sequentially reads records from the given file. It internally uses
// a buffered reader to improve performance. This is not meant to be used in Get
// operations, and is intended for recovery and merge (or other sequential scans
// of a segment file)
type Scanner struct {
	fs     afero.Fs
	file   afero.File
	offset int64
	reader *bufio.Reader

	headerBuf    [HeaderSize]byte
	sharedBuffer []byte
}

// NewScanner opens the file at path for sequential scanning. baseOffset is the offset
// of the first record in the file, used to skip the segment file header
func NewScanner(fs afero.Fs, path string, baseOffset int64) (*Scanner, error) {
	file, err := fs.OpenFile(path, os.O_RDONLY, 0666)
	if err != nil {
		return nil, err
	}
	reader := bufio.NewReaderSize(file, readerBufferSize)
	if _, err := reader.Discard(int(baseOffset)); err != nil {
		file.Close()
		return nil, err
	}

	return &Scanner{
		fs:           fs,
		file:         file,
		offset:       baseOffset,
		reader:       reader,
		sharedBuffer: make([]byte, 0, 4096),
	}, nil
}

// Scan returns the next record and the offset of the start of the record, measured from
// the start of the file. io.EOF is returned at a clean end of file; any other error
// means the remaining bytes do not form a complete, intact record.
// Note: the Key & Value inside the record are backed by a shared buffer, and will be
// overwritten the next time Scan is called. If you need the record key / value later,
// make a copy
func (scanner *Scanner) Scan() (Record, int64, error) {
	recordOffset := scanner.offset
	if _, err := io.ReadFull(scanner.reader, scanner.headerBuf[:]); err != nil {
		return Record{}, 0, err
	}
	header, err := decodeHeader(scanner.headerBuf[:])
	if err != nil {
		return Record{}, 0, err
	}

	n := payloadSize(header)
	if cap(scanner.sharedBuffer) < n {
		scanner.sharedBuffer = make([]byte, 0, n)
	}
	payload := scanner.sharedBuffer[:n]
	if _, err := io.ReadFull(scanner.reader, payload); err != nil {
		if err == io.EOF {
			return Record{}, 0, io.ErrUnexpectedEOF
		}
		return Record{}, 0, err
	}

	h := crc32.NewIEEE()
	h.Write(scanner.headerBuf[4:])
	h.Write(payload)
	if h.Sum32() != binary.LittleEndian.Uint32(scanner.headerBuf[0:4]) {
		return Record{}, 0, ErrChecksumMismatch
	}

	rec := Record{
		Header: header,
		Key:    payload[:header.KeySize],
		Size:   int64(HeaderSize + n),
	}
	if !rec.IsTombstone() {
		rec.Value = payload[header.KeySize:]
	}
	scanner.offset += rec.Size
	return rec, recordOffset, nil
}

// Offset returns the offset just past the last successfully scanned record. After a
// scan error this is the boundary up to which the file is known to be intact
func (scanner *Scanner) Offset() int64 {
	return scanner.offset
}

// Close closes the underlying file
func (scanner *Scanner) Close() error {
	return scanner.file.Close()
}
