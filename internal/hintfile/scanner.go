package hintfile

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/ananthvk/caskdb/internal/constants"
	"github.com/ananthvk/caskdb/internal/record"
	"github.com/spf13/afero"
)

const readerBufferSize = 4 * 1000 * 1000 // 4 MB

type Scanner struct {
	file         afero.File
	reader       *bufio.Reader
	sharedBuffer []byte // Buffer to hold hint record header + key
}

func NewScanner(fs afero.Fs, path string) (*Scanner, error) {
	file, err := fs.OpenFile(path, os.O_RDONLY, 0666)
	if err != nil {
		return nil, err
	}

	return &Scanner{
		file:         file,
		reader:       bufio.NewReaderSize(file, readerBufferSize),
		sharedBuffer: make([]byte, HintRecordHeaderSize+constants.MaxKeySize),
	}, nil
}

// Scan returns the next hint record in the file. io.EOF is returned at a clean end of
// file. Note: the Key is backed by a shared buffer and will be overwritten on the next
// call, make a copy if it is needed later
func (scanner *Scanner) Scan() (HintRecord, error) {
	if _, err := io.ReadFull(scanner.reader, scanner.sharedBuffer[0:HintRecordHeaderSize]); err != nil {
		return HintRecord{}, err
	}

	hintRecord := HintRecord{}
	hintRecord.Timestamp = binary.LittleEndian.Uint64(scanner.sharedBuffer[0:])
	hintRecord.KeySize = binary.LittleEndian.Uint32(scanner.sharedBuffer[8:])
	hintRecord.ValueSize = binary.LittleEndian.Uint32(scanner.sharedBuffer[12:])
	hintRecord.ValueOffset = int64(binary.LittleEndian.Uint64(scanner.sharedBuffer[16:]))

	// Check if key / value size are within the set maximum values
	// This is to detect corruption to the header (i.e. if the size gets corrupted and
	// it becomes a very huge value)
	if hintRecord.KeySize > constants.MaxKeySize {
		return HintRecord{}, record.ErrKeyTooLarge
	}
	if hintRecord.ValueSize != record.Tombstone && hintRecord.ValueSize > constants.MaxValueSize {
		return HintRecord{}, record.ErrValueTooLarge
	}

	keyStart := int(HintRecordHeaderSize)
	keyEnd := keyStart + int(hintRecord.KeySize)
	hintRecord.Key = scanner.sharedBuffer[keyStart:keyEnd]

	if _, err := io.ReadFull(scanner.reader, hintRecord.Key); err != nil {
		if err == io.EOF {
			return HintRecord{}, io.ErrUnexpectedEOF
		}
		return HintRecord{}, err
	}

	return hintRecord, nil
}

func (scanner *Scanner) Close() error {
	return scanner.file.Close()
}
