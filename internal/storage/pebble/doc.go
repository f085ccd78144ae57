// Package pebblestore wraps Pebble with an fsync policy, prefix scans and
// optional latency hooks. It backs both the kv record store and the
// background transfer journal.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data/db",
//	    Fsync:   pebblestore.FsyncModeAlways,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	b := db.NewBatch()
//	_ = b.Set([]byte("relay/main/rec/01"), rec, nil)
//	_ = db.CommitBatch(ctx, b)
//	b.Close()
//
//	_ = db.ScanPrefix([]byte("relay/main/rec/"), func(k, v []byte) error {
//	    return nil
//	})
package pebblestore
