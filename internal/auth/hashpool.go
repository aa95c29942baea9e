package auth

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/semaphore"

	"vetrai.org/internal/obs"
)

// HashPool bounds the number of concurrent password hash computations so a
// burst of logins cannot starve request handling of CPU.
type HashPool struct {
	hasher Hasher
	sem    *semaphore.Weighted
	size   int
}

// NewHashPool runs hasher on at most workers concurrent computations.
// workers <= 0 selects runtime.NumCPU().
func NewHashPool(hasher Hasher, workers int) *HashPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &HashPool{
		hasher: hasher,
		sem:    semaphore.NewWeighted(int64(workers)),
		size:   workers,
	}
}

// Size returns the configured concurrency.
func (p *HashPool) Size() int { return p.size }

// Hash hashes password on a pool slot.
func (p *HashPool) Hash(ctx context.Context, password string) (string, error) {
	var (
		digest string
		err    error
	)
	if runErr := p.run(ctx, func() { digest, err = p.hasher.Hash(password) }); runErr != nil {
		return "", runErr
	}
	return digest, err
}

// Verify checks password against digest on a pool slot. The error is non-nil
// only when ctx ends first.
func (p *HashPool) Verify(ctx context.Context, password, digest string) (bool, error) {
	var ok bool
	if err := p.run(ctx, func() { ok = p.hasher.Verify(password, digest) }); err != nil {
		return false, err
	}
	return ok, nil
}

// run waits for a slot and executes fn off the caller goroutine. On ctx
// cancellation the caller returns at once; the slot stays held until fn ends.
func (p *HashPool) run(ctx context.Context, fn func()) error {
	start := time.Now()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	obs.HashStarted(time.Since(start))

	done := make(chan struct{})
	go func() {
		defer p.sem.Release(1)
		defer obs.HashFinished()
		defer close(done)
		fn()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
