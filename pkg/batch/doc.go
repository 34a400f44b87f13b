// Package batch runs a summarization batch: it partitions the documents
// over a fixed set of workers, lets each worker process its documents in
// order against the checkpoint store, and merges the store by index into
// the final output.
//
// Workers never share a queue. Each one owns a static stride of indices,
// so a slow document only delays the worker that owns it, and the merge
// order depends on indices alone, never on completion order.
//
// Example usage:
//
//	runner, err := batch.NewRunner(processor, store, batch.DefaultConfig(), logger)
//	if err != nil {
//		return err
//	}
//	report, err := runner.Run(ctx, docs)
//	if err != nil {
//		return err
//	}
//	_, err = batch.WriteMergedFile(ctx, store, docs, "summary.txt", logger)
package batch
