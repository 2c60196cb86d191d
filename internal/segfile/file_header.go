package segfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/afero"
)

const fileHeaderVersionMajor = 1
const fileHeaderVersionMinor = 0
const fileHeaderVersionPatch = 0

var fileHeaderMagicBytes = [...]byte{0x00, 0x63, 0x61, 0x73, 0x6B, 0x53, 0x45, 0x47}

// FileHeaderSize is the size of the segment file header in bytes. Records start
// immediately after the header
const FileHeaderSize = 20

// KeyOrderLexicographic indicates that keys in this store are ordered as raw bytes.
// It is the only ordering written by this version, the byte is reserved so that a
// future version can record a different ordering
const KeyOrderLexicographic = 0x01

var (
	ErrNotSegmentFile           = errors.New("not a caskdb segment file")
	ErrFileVersionNotCompatible = errors.New("segment file not supported by reader")
	ErrUnsupportedKeyOrder      = errors.New("segment file uses an unsupported key ordering")
)

type FileHeader struct {
	VersionMajor byte
	VersionMinor byte
	VersionPatch byte
	KeyOrder     byte
	Timestamp    time.Time
}

// NewFileHeader creates a new file header with the current format version and
// lexicographic key ordering
func NewFileHeader(ts time.Time) *FileHeader {
	return &FileHeader{
		VersionMajor: fileHeaderVersionMajor,
		VersionMinor: fileHeaderVersionMinor,
		VersionPatch: fileHeaderVersionPatch,
		KeyOrder:     KeyOrderLexicographic,
		Timestamp:    ts,
	}
}

func isFileVersionCompatible(fileMajor, fileMinor, filePatch byte) error {
	// Major version mismatch - incompatible
	if fileMajor != fileHeaderVersionMajor {
		return fmt.Errorf(
			"%w - segment file has major version %d, reader has major version %d",
			ErrFileVersionNotCompatible,
			fileMajor,
			fileHeaderVersionMajor,
		)
	}
	// File is newer (minor) than reader - incompatible
	if fileMinor > fileHeaderVersionMinor {
		return fmt.Errorf(
			"%w - file was created by newer version (%d.%d.%d) of the application",
			ErrFileVersionNotCompatible,
			fileMajor,
			fileMinor,
			filePatch,
		)
	}
	return nil
}

// ReadFileHeader reads a segment file header from the file at the given path. It
// returns an error if the file is not a segment file, if the file version is not
// compatible, or if the key ordering does not match what this reader implements
func ReadFileHeader(fs afero.Fs, path string) (*FileHeader, error) {
	file, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var buf [FileHeaderSize]byte
	_, err = io.ReadFull(file, buf[:])
	if err != nil {
		return nil, err
	}
	// Check magic bytes to see if we are reading a segment file
	for i, b := range fileHeaderMagicBytes {
		if buf[i] != b {
			return nil, ErrNotSegmentFile
		}
	}
	fileHeader := &FileHeader{
		VersionMajor: buf[8],
		VersionMinor: buf[9],
		VersionPatch: buf[10],
		KeyOrder:     buf[11],
	}
	if err := isFileVersionCompatible(fileHeader.VersionMajor, fileHeader.VersionMinor, fileHeader.VersionPatch); err != nil {
		return nil, err
	}
	if fileHeader.KeyOrder != KeyOrderLexicographic {
		return nil, ErrUnsupportedKeyOrder
	}

	ts := int64(binary.LittleEndian.Uint64(buf[12:]))
	fileHeader.Timestamp = time.UnixMicro(ts)

	return fileHeader, nil
}

// WriteFileHeader creates the file at the given path and writes a segment file header
// to it. It calls Sync() after writing so that the header is durable before any record
// is appended. If the file already exists, it results in an error
func WriteFileHeader(fs afero.Fs, path string, ts time.Time) error {
	file, err := fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, os.ModePerm)
	if err != nil {
		return err
	}
	defer file.Close()

	var buf [FileHeaderSize]byte

	copy(buf[:], fileHeaderMagicBytes[:])

	buf[8] = fileHeaderVersionMajor
	buf[9] = fileHeaderVersionMinor
	buf[10] = fileHeaderVersionPatch
	buf[11] = KeyOrderLexicographic

	binary.LittleEndian.PutUint64(buf[12:], uint64(ts.UnixMicro()))

	if _, err := file.Write(buf[:]); err != nil {
		return err
	}

	return file.Sync()
}
