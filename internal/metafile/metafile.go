package metafile

import (
	"bufio"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// MetaData identifies a store directory and carries the persisted parts of its
// configuration. SegmentMaxBytes is persisted so that every process opening the
// store rolls segments at the same threshold
type MetaData struct {
	Type            string
	Version         string
	Created         string
	SegmentMaxBytes int64
}

const identifierFileName = "caskdb_store.meta"

// IsDatastore returns true if the given path points to a valid datastore.
// For a valid datastore, the path must point to a directory, must exist, and
// a file named identifierFileName must be present at the path.
func IsDatastore(fs afero.Fs, path string) (bool, error) {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}

	isDir, err := afero.IsDir(fs, path)
	if err != nil {
		return false, err
	}
	if !isDir {
		return false, nil
	}

	exists, err = afero.Exists(fs, filepath.Join(path, identifierFileName))
	if err != nil {
		return false, err
	}

	return exists, nil
}

// ReadMetaFile reads the metafile at the given store path and returns the MetaData
func ReadMetaFile(fs afero.Fs, path string) (*MetaData, error) {
	file, err := fs.Open(filepath.Join(path, identifierFileName))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	metaData := MetaData{}
	empty := MetaData{}

	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "type":
			metaData.Type = value
		case "version":
			metaData.Version = value
		case "created":
			metaData.Created = value
		case "segment_max_bytes":
			fmt.Sscanf(value, "%d", &metaData.SegmentMaxBytes)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if metaData == empty {
		return nil, errors.New("metafile is empty")
	}

	return &metaData, nil
}

// WriteMetaFile writes a meta file to the given store directory, a file named
// identifierFileName will be written
func WriteMetaFile(fs afero.Fs, path string, metaData *MetaData) error {
	file, err := fs.Create(filepath.Join(path, identifierFileName))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	if _, err := fmt.Fprintf(writer, "type=%s\n", metaData.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(writer, "version=%s\n", metaData.Version); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(writer, "created=%s\n", metaData.Created); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(writer, "segment_max_bytes=%d\n", metaData.SegmentMaxBytes); err != nil {
		return err
	}
	return nil
}

// IsValidPath returns true if the given directory path is valid for a new data
// store. The path is valid when nothing exists there yet, or when it is an empty
// directory that does not already hold a datastore
func IsValidPath(fs afero.Fs, path string) (bool, string, error) {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return false, "", err
	}
	if !exists {
		return true, "", nil
	}

	isDir, err := afero.IsDir(fs, path)
	if err != nil {
		return false, "", err
	}
	if !isDir {
		return false, "path exists and is not a directory", nil
	}

	datastoreExists, err := IsDatastore(fs, path)
	if err != nil {
		return false, "", err
	}
	if datastoreExists {
		return false, "datastore already exists at the path", nil
	}
	entries, err := afero.ReadDir(fs, path)
	if err != nil {
		return false, "", err
	}
	if len(entries) > 0 {
		return false, "directory is not empty", nil
	}

	return true, "", nil
}
