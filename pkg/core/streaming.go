package core

import (
	"context"
	"sync"

	"github.com/oceanbase/memstore/pkg/storage"
)

// StreamingGetAllResult contains a batch of memories from streaming GetAll.
type StreamingGetAllResult struct {
	// Memories is a batch of memories.
	Memories []*Memory

	// BatchIndex is the index of this batch (0-based).
	BatchIndex int

	// IsLastBatch indicates whether this is the last batch.
	IsLastBatch bool

	// Error contains any error that occurred during streaming (if any).
	Error error
}

// GetAllStream streams memories in batches through a channel, for walking
// large scopes without loading them at once.
//
// Limit caps the total number of memories streamed (default: 10000). The
// channel is closed when all results have been sent or an error occurs.
//
// Example:
//
//	for batch := range client.GetAllStream(ctx, 100, core.WithUserIDForGetAll("user_001")) {
//	    if batch.Error != nil {
//	        log.Fatal(batch.Error)
//	    }
//	    for _, mem := range batch.Memories {
//	        processMemory(mem)
//	    }
//	}
func (c *Client) GetAllStream(ctx context.Context, batchSize int, opts ...GetAllOption) <-chan *StreamingGetAllResult {
	resultChan := make(chan *StreamingGetAllResult, 1)
	if batchSize <= 0 {
		batchSize = 100
	}

	go func() {
		defer close(resultChan)

		getAllOpts := applyGetAllOptions(opts)
		maxResults := getAllOpts.Limit
		if len(opts) == 0 || maxResults <= 0 {
			maxResults = 10000
		}

		batchIndex := 0
		offset := getAllOpts.Offset

		for {
			if err := ctx.Err(); err != nil {
				resultChan <- &StreamingGetAllResult{BatchIndex: batchIndex, Error: err}
				return
			}

			remaining := maxResults - (offset - getAllOpts.Offset)
			if remaining <= 0 {
				return
			}
			limit := batchSize
			if remaining < limit {
				limit = remaining
			}

			memories, err := c.records.List(ctx, &storage.ListOptions{
				Scope:  getAllOpts.Scope,
				Stages: getAllOpts.Stages,
				Limit:  limit,
				Offset: offset,
			})
			if err != nil {
				resultChan <- &StreamingGetAllResult{
					BatchIndex: batchIndex,
					Error:      NewMemoryError("GetAllStream", err),
				}
				return
			}

			if len(memories) == 0 {
				return
			}

			offset += len(memories)
			isLastBatch := len(memories) < limit || offset-getAllOpts.Offset >= maxResults

			select {
			case resultChan <- &StreamingGetAllResult{
				Memories:    memories,
				BatchIndex:  batchIndex,
				IsLastBatch: isLastBatch,
			}:
			case <-ctx.Done():
				return
			}

			if isLastBatch {
				return
			}
			batchIndex++
		}
	}()

	return resultChan
}

// BatchAddResult contains the result of a batch add operation.
type BatchAddResult struct {
	// Created contains successfully created memories, in input order.
	Created []*Memory

	// Failed contains memories that failed to be created, along with their errors.
	Failed []BatchAddError

	// Total is the total number of items in the batch.
	Total int

	// CreatedCount is the number of successfully created memories.
	CreatedCount int

	// FailedCount is the number of failed creations.
	FailedCount int
}

// BatchAddError contains information about a failed batch add operation.
type BatchAddError struct {
	// Content is the content that failed to be added.
	Content string

	// Error is the error that occurred.
	Error error

	// Index is the index of the item in the original batch.
	Index int
}

// BatchAdd adds multiple memories sharing the same options.
//
// Valid contents are embedded with a single EmbedBatch call. If that call
// fails the whole batch fails and nothing is stored; otherwise each memory
// is stored independently and per-item failures are reported in the result.
//
// Example:
//
//	result, err := client.BatchAdd(ctx, []string{
//	    "User likes Python",
//	    "User prefers email communication",
//	}, core.WithUserID("user_001"))
//	fmt.Printf("Created %d/%d memories\n", result.CreatedCount, result.Total)
func (c *Client) BatchAdd(ctx context.Context, contents []string, opts ...AddOption) (*BatchAddResult, error) {
	result := &BatchAddResult{
		Total:   len(contents),
		Created: make([]*Memory, 0, len(contents)),
	}
	if len(contents) == 0 {
		return result, nil
	}

	addOpts := applyAddOptions(opts)

	type pending struct {
		index  int
		memory *Memory
	}
	var batch []pending
	for i, content := range contents {
		m, err := c.newMemory(content, addOpts)
		if err != nil {
			result.Failed = append(result.Failed, BatchAddError{Content: content, Error: NewMemoryError("BatchAdd", err), Index: i})
			continue
		}
		batch = append(batch, pending{index: i, memory: m})
	}

	if len(batch) > 0 {
		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = p.memory.Content
		}
		embeddings, err := c.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, NewMemoryError("BatchAdd", err)
		}

		for i, p := range batch {
			p.memory.Embedding = embeddings[i]

			unlock := c.locks.Lock(p.memory.ID)
			err := c.insert(ctx, p.memory)
			unlock()

			if err != nil {
				result.Failed = append(result.Failed, BatchAddError{
					Content: p.memory.Content,
					Error:   NewMemoryError("BatchAdd", err),
					Index:   p.index,
				})
				continue
			}
			result.Created = append(result.Created, p.memory.Clone())
		}
	}

	result.CreatedCount = len(result.Created)
	result.FailedCount = len(result.Failed)
	return result, nil
}

// BatchDeleteResult contains the result of a batch delete operation.
type BatchDeleteResult struct {
	// DeletedIDs contains IDs of successfully deleted memories.
	DeletedIDs []int64

	// Failed contains memories that failed to be deleted, along with their errors.
	Failed []BatchDeleteError

	// Total is the total number of items in the batch.
	Total int

	// DeletedCount is the number of successfully deleted memories.
	DeletedCount int

	// FailedCount is the number of failed deletions.
	FailedCount int
}

// BatchDeleteError contains information about a failed batch delete operation.
type BatchDeleteError struct {
	// ID is the memory ID that failed to be deleted.
	ID int64

	// Error is the error that occurred.
	Error error

	// Index is the index of the item in the original batch.
	Index int
}

// BatchDelete deletes multiple memories concurrently.
//
// Example:
//
//	result, err := client.BatchDelete(ctx, []int64{1, 2, 3})
//	fmt.Printf("Deleted %d/%d memories\n", result.DeletedCount, result.Total)
func (c *Client) BatchDelete(ctx context.Context, ids []int64) (*BatchDeleteResult, error) {
	result := &BatchDeleteResult{
		Total:      len(ids),
		DeletedIDs: make([]int64, 0, len(ids)),
	}
	if len(ids) == 0 {
		return result, nil
	}

	// Use a semaphore to limit concurrent operations
	const maxConcurrency = 10
	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i, id := range ids {
		wg.Add(1)
		sem <- struct{}{}

		go func(index int, memoryID int64) {
			defer wg.Done()
			defer func() { <-sem }()

			err := ctx.Err()
			if err == nil {
				err = c.Delete(ctx, memoryID)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, BatchDeleteError{ID: memoryID, Error: err, Index: index})
				return
			}
			result.DeletedIDs = append(result.DeletedIDs, memoryID)
		}(i, id)
	}

	wg.Wait()

	result.DeletedCount = len(result.DeletedIDs)
	result.FailedCount = len(result.Failed)
	return result, nil
}
