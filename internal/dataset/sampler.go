package dataset

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

// SamplerOptions configures the multi-root sampler.
type SamplerOptions struct {
	Roots      map[string][]string
	Seed       int64
	NumWorkers int
	PendingCap int
}

// StartSampler streams samples forever, cycling through every shard of every
// root. Each pass visits roots round-robin with shard order shuffled by Seed.
// Shards are decoded by NumWorkers workers in parallel but emitted in job
// order, so the stream is deterministic for a given seed.
func StartSampler(parent context.Context, opts SamplerOptions) (<-chan Sample, <-chan error, error) {
	if len(opts.Roots) == 0 {
		return nil, nil, errors.New("sampler: no dataset roots provided")
	}
	total := 0
	for _, shards := range opts.Roots {
		total += len(shards)
	}
	if total == 0 {
		return nil, nil, errors.New("sampler: no shards discovered")
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if opts.Seed == 0 {
		opts.Seed = 42
	}

	ctx, cancel := context.WithCancel(parent)

	jobs := make(chan shardJob, opts.NumWorkers)
	cursors := make(chan shardCursor, opts.NumWorkers)
	out := make(chan Sample, opts.NumWorkers*2)
	errCh := make(chan error, 1)

	go produceJobs(ctx, jobs, opts.Roots, rand.New(rand.NewSource(opts.Seed)))

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			openShards(ctx, jobs, cursors, opts.PendingCap)
		}()
	}
	go func() {
		wg.Wait()
		close(cursors)
	}()

	go func() {
		defer cancel()
		defer close(errCh)
		defer close(out)
		if err := emitInOrder(ctx, cursors, out); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	return out, errCh, nil
}

type shardJob struct {
	id   int64
	path string
}

type shardCursor struct {
	id      int64
	path    string
	samples <-chan Sample
	errCh   <-chan error
}

func openShards(ctx context.Context, jobs <-chan shardJob, cursors chan<- shardCursor, pendingCap int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			samples, errCh := StreamShard(ctx, job.path, pendingCap)
			cursor := shardCursor{id: job.id, path: job.path, samples: samples, errCh: errCh}
			select {
			case <-ctx.Done():
				return
			case cursors <- cursor:
			}
		}
	}
}

// emitInOrder forwards shard streams to out strictly by job id, parking
// cursors that arrive early.
func emitInOrder(ctx context.Context, cursors <-chan shardCursor, out chan<- Sample) error {
	parked := make(map[int64]shardCursor)
	var next int64
	for {
		cursor, ok := parked[next]
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case c, open := <-cursors:
				if !open {
					return nil
				}
				parked[c.id] = c
			}
			continue
		}
		if err := forward(ctx, cursor, out); err != nil {
			return err
		}
		log.WithFields(log.Fields{"shard": cursor.path, "job": cursor.id}).Debug("shard drained")
		delete(parked, next)
		next++
	}
}

func forward(ctx context.Context, cursor shardCursor, out chan<- Sample) error {
	for sample := range cursor.samples {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- sample:
		}
	}
	return <-cursor.errCh
}

func produceJobs(ctx context.Context, jobs chan<- shardJob, roots map[string][]string, rng *rand.Rand) {
	var id int64
	for {
		for _, path := range roundRobinOrder(roots, rng) {
			select {
			case <-ctx.Done():
				return
			case jobs <- shardJob{id: id, path: path}:
				id++
			}
		}
	}
}

// roundRobinOrder shuffles each root's shards, then interleaves roots in
// sorted name order until every shard has been listed once.
func roundRobinOrder(roots map[string][]string, rng *rand.Rand) []string {
	names := make([]string, 0, len(roots))
	for root, shards := range roots {
		if len(shards) > 0 {
			names = append(names, root)
		}
	}
	sort.Strings(names)
	queues := make(map[string][]string, len(names))
	for _, root := range names {
		q := append([]string(nil), roots[root]...)
		rng.Shuffle(len(q), func(i, j int) { q[i], q[j] = q[j], q[i] })
		queues[root] = q
	}
	var order []string
	for remaining := true; remaining; {
		remaining = false
		for _, root := range names {
			q := queues[root]
			if len(q) == 0 {
				continue
			}
			order = append(order, q[0])
			queues[root] = q[1:]
			remaining = true
		}
	}
	return order
}
