// Package checkpoint persists one summary artifact per document index so an
// interrupted batch can resume and a merge can be rebuilt at any time.
//
// Two backends implement Store:
//
// - FileStore writes <dir>/<padded>.txt (and <padded>.json metadata) and
//   finds an index under any padding
// - RedisStore writes one hash per unpadded index plus an index set
//
// Writes are atomic per index: a reader sees either the previous artifact
// or the new one, never a partial text.
//
// # Basic Usage
//
//	store, err := checkpoint.NewFileStore("tmp", len(docs))
//	if err != nil {
//		return err
//	}
//
//	exists, err := store.Exists(ctx, 3)
//	if !exists {
//		err = store.Write(ctx, checkpoint.Artifact{Index: 3, Total: len(docs), Content: text, Model: model})
//	}
//
// # Redis Backend
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store, err := checkpoint.NewRedisStore(redisClient, "my-novel", len(docs))
//
// # Metrics
//
//   - digest_checkpoint_writes_total{backend} - Artifacts written
//   - digest_checkpoint_hits_total{backend} - Existence checks that found an artifact
//   - digest_checkpoint_bytes_total{backend} - Bytes of artifact text written
//   - digest_checkpoint_errors_total{backend,operation} - Store operation errors
package checkpoint
