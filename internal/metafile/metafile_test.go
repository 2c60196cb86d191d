package metafile

import (
	"testing"

	"github.com/spf13/afero"
)

func TestMetaFileRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "store"
	if err := fs.MkdirAll(path, 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	original := &MetaData{
		Type:            "caskdb",
		Version:         "1.0.0",
		Created:         "2025-01-02 15:04:05",
		SegmentMaxBytes: 1 << 27,
	}
	if err := WriteMetaFile(fs, path, original); err != nil {
		t.Fatalf("WriteMetaFile failed: %v", err)
	}

	got, err := ReadMetaFile(fs, path)
	if err != nil {
		t.Fatalf("ReadMetaFile failed: %v", err)
	}
	if *got != *original {
		t.Errorf("expected %+v, got %+v", original, got)
	}

	isStore, err := IsDatastore(fs, path)
	if err != nil || !isStore {
		t.Errorf("expected path to be recognized as a datastore (err %v)", err)
	}
}

func TestIsDatastoreMissingPath(t *testing.T) {
	fs := afero.NewMemMapFs()
	isStore, err := IsDatastore(fs, "does-not-exist")
	if err != nil {
		t.Fatalf("IsDatastore failed: %v", err)
	}
	if isStore {
		t.Error("a missing path must not be a datastore")
	}
}

func TestIsValidPath(t *testing.T) {
	fs := afero.NewMemMapFs()

	// Nothing at the path: valid
	valid, _, err := IsValidPath(fs, "fresh")
	if err != nil || !valid {
		t.Errorf("expected a missing path to be valid (err %v)", err)
	}

	// An empty directory: valid
	fs.MkdirAll("empty", 0755)
	valid, _, err = IsValidPath(fs, "empty")
	if err != nil || !valid {
		t.Errorf("expected an empty directory to be valid (err %v)", err)
	}

	// A non-empty directory: invalid
	fs.MkdirAll("busy", 0755)
	afero.WriteFile(fs, "busy/file.txt", []byte("x"), 0666)
	valid, reason, err := IsValidPath(fs, "busy")
	if err != nil || valid {
		t.Errorf("expected a non-empty directory to be invalid (reason %q, err %v)", reason, err)
	}

	// An existing datastore: invalid
	fs.MkdirAll("existing", 0755)
	WriteMetaFile(fs, "existing", &MetaData{Type: "caskdb", Version: "1.0.0"})
	valid, reason, err = IsValidPath(fs, "existing")
	if err != nil || valid {
		t.Errorf("expected an existing datastore to be invalid (reason %q, err %v)", reason, err)
	}
}
