package core

import (
	"context"
	"sync"
)

// AsyncClient runs Client operations in goroutines and delivers each result
// on a buffered channel of capacity one, so callers may drop a result
// without leaking the goroutine.
//
// Example:
//
//	asyncClient, _ := core.NewAsyncClient(config)
//	defer asyncClient.Close()
//
//	result := <-asyncClient.AddAsync(ctx, "User likes Python", core.WithUserID("user_001"))
//	if result.Error != nil {
//	    log.Fatal(result.Error)
//	}
type AsyncClient struct {
	*Client
	wg sync.WaitGroup
}

// NewAsyncClient creates a new asynchronous client.
func NewAsyncClient(cfg *Config, opts ...ClientOption) (*AsyncClient, error) {
	client, err := NewClient(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &AsyncClient{Client: client}, nil
}

// MemoryResult contains the result of a memory operation.
type MemoryResult struct {
	// Memory is the memory returned by the operation (nil if error occurred).
	Memory *Memory

	// Error is the error returned by the operation (nil if operation succeeded).
	Error error
}

// MemoriesResult contains the result of an operation returning a list.
type MemoriesResult struct {
	Memories []*Memory
	Error    error
}

// CountResult contains the result of a bulk deletion.
type CountResult struct {
	Count int64
	Error error
}

func runAsync[T any](ac *AsyncClient, fn func() T) <-chan T {
	ch := make(chan T, 1)
	ac.wg.Add(1)
	go func() {
		defer ac.wg.Done()
		ch <- fn()
		close(ch)
	}()
	return ch
}

// AddAsync adds a memory asynchronously.
func (ac *AsyncClient) AddAsync(ctx context.Context, content string, opts ...AddOption) <-chan *MemoryResult {
	return runAsync(ac, func() *MemoryResult {
		m, err := ac.Add(ctx, content, opts...)
		return &MemoryResult{Memory: m, Error: err}
	})
}

// GetAsync retrieves a memory by ID asynchronously.
func (ac *AsyncClient) GetAsync(ctx context.Context, id int64) <-chan *MemoryResult {
	return runAsync(ac, func() *MemoryResult {
		m, err := ac.Get(ctx, id)
		return &MemoryResult{Memory: m, Error: err}
	})
}

// UpdateAsync updates a memory asynchronously.
func (ac *AsyncClient) UpdateAsync(ctx context.Context, id int64, opts ...UpdateOption) <-chan *MemoryResult {
	return runAsync(ac, func() *MemoryResult {
		m, err := ac.Update(ctx, id, opts...)
		return &MemoryResult{Memory: m, Error: err}
	})
}

// DeleteAsync deletes a memory asynchronously.
func (ac *AsyncClient) DeleteAsync(ctx context.Context, id int64) <-chan error {
	return runAsync(ac, func() error {
		return ac.Delete(ctx, id)
	})
}

// SearchAsync searches memories asynchronously.
func (ac *AsyncClient) SearchAsync(ctx context.Context, query string, opts ...SearchOption) <-chan *MemoriesResult {
	return runAsync(ac, func() *MemoriesResult {
		ms, err := ac.Search(ctx, query, opts...)
		return &MemoriesResult{Memories: ms, Error: err}
	})
}

// GetAllAsync lists memories asynchronously.
func (ac *AsyncClient) GetAllAsync(ctx context.Context, opts ...GetAllOption) <-chan *MemoriesResult {
	return runAsync(ac, func() *MemoriesResult {
		ms, err := ac.GetAll(ctx, opts...)
		return &MemoriesResult{Memories: ms, Error: err}
	})
}

// DeleteAllAsync deletes memories in bulk asynchronously.
func (ac *AsyncClient) DeleteAllAsync(ctx context.Context, opts ...DeleteAllOption) <-chan *CountResult {
	return runAsync(ac, func() *CountResult {
		n, err := ac.DeleteAll(ctx, opts...)
		return &CountResult{Count: n, Error: err}
	})
}

// Wait blocks until every asynchronous operation has finished.
func (ac *AsyncClient) Wait() {
	ac.wg.Wait()
}

// Close waits for pending operations, then closes the underlying client.
func (ac *AsyncClient) Close() error {
	ac.Wait()
	return ac.Client.Close()
}
