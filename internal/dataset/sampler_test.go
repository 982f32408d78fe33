package dataset

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRoundRobinOrderDeterministic(t *testing.T) {
	roots := map[string][]string{
		"/rootA": {"/rootA/shard-000000.tar", "/rootA/shard-000002.tar"},
		"/rootB": {"/rootB/shard-000001.tar"},
		"/rootC": nil,
	}
	order1 := roundRobinOrder(roots, rand.New(rand.NewSource(7)))
	order2 := roundRobinOrder(roots, rand.New(rand.NewSource(7)))

	require.Equal(t, order1, order2)
	require.Len(t, order1, 3)
	require.NotEqual(t, filepath.Dir(order1[0]), filepath.Dir(order1[1]), "roots alternate")
}

func TestSamplerDeterministicStream(t *testing.T) {
	temp := t.TempDir()
	rootA := filepath.Join(temp, "rootA")
	rootB := filepath.Join(temp, "rootB")
	writeTestShard(t, filepath.Join(rootA, ShardName(0)), "a0", "a1")
	writeTestShard(t, filepath.Join(rootA, ShardName(2)), "a2")
	writeTestShard(t, filepath.Join(rootB, ShardName(1)), "b0", "b1")

	roots, err := DiscoverRoots([]string{rootA, rootB})
	require.NoError(t, err)
	opts := SamplerOptions{Roots: roots, Seed: 123, NumWorkers: 3}

	run1 := collectKeys(t, opts, 10)
	run2 := collectKeys(t, opts, 10)
	require.Equal(t, run1, run2)

	seen := map[string]bool{}
	for _, k := range run1[:5] {
		seen[k] = true
	}
	require.Len(t, seen, 5, "first pass visits every sample once")
}

func TestStartSamplerRejectsEmpty(t *testing.T) {
	_, _, err := StartSampler(context.Background(), SamplerOptions{})
	require.Error(t, err)
	_, _, err = StartSampler(context.Background(), SamplerOptions{Roots: map[string][]string{"x": nil}})
	require.Error(t, err)
}

func TestSamplerReportsCorruptShard(t *testing.T) {
	dir := t.TempDir()
	writeCorruptShard(t, filepath.Join(dir, ShardName(0)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, errCh, err := StartSampler(ctx, SamplerOptions{Roots: map[string][]string{dir: {filepath.Join(dir, ShardName(0))}}})
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-stream:
			if !ok {
				stream = nil
			}
		case err := <-errCh:
			require.Error(t, err)
			return
		case <-deadline:
			t.Fatal("timed out waiting for sampler error")
		}
	}
}

func collectKeys(t *testing.T, opts SamplerOptions, count int) []string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, errCh, err := StartSampler(ctx, opts)
	require.NoError(t, err)

	out := make([]string, 0, count)
	deadline := time.After(2 * time.Second)
	for len(out) < count {
		select {
		case sample, ok := <-stream:
			require.True(t, ok, "stream closed early after %d samples", len(out))
			out = append(out, sample.Key)
		case err := <-errCh:
			require.NoError(t, err)
		case <-deadline:
			t.Fatal("timed out waiting for samples")
		}
	}
	cancel()
	for err := range errCh {
		require.NoError(t, err)
	}
	return out
}
