// Package caskdb is an embeddable, persistent key-value store built on the
// Bitcask log-structured design, extended with an ordered in-memory key
// directory so that range scans by key are possible.
//
// Example:
//
//	store, err := caskdb.Open(afero.NewOsFs(), "/var/lib/mydb", caskdb.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	err = store.Put([]byte("foo"), []byte("bar"))
//	val, err := store.Get([]byte("foo"))
//	pairs, err := store.Range([]byte("a"), []byte("z"))
package caskdb
