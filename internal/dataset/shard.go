package dataset

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"segforge/internal/volume"
)

// Shard entry extensions. A sample is the pair <key>.img + <key>.seg.
const (
	ImageExt = ".img"
	MaskExt  = ".seg"
)

// Sample is one labelled volume. Image is channel-last (d, h, w, features)
// and Mask is channel-last (d, h, w, labels).
type Sample struct {
	Key   string
	Image *volume.Volume
	Mask  *volume.Volume
}

// ErrPendingOverflow indicates the pairing map exceeded the configured bound.
var ErrPendingOverflow = errors.New("dataset: pending pair buffer exceeded")

// ErrIncomplete is returned when a shard ends with unpaired entries.
var ErrIncomplete = errors.New("dataset: shard has unpaired entries")

const defaultPendingCap = 256

// StreamShard streams paired samples from the shard at path. The error
// channel carries at most one error and is closed after the sample channel.
func StreamShard(ctx context.Context, path string, pendingCap int) (<-chan Sample, <-chan error) {
	if pendingCap <= 0 {
		pendingCap = defaultPendingCap
	}
	out := make(chan Sample)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(out)
		if err := streamShard(ctx, path, pendingCap, out); err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

func streamShard(ctx context.Context, path string, pendingCap int, out chan<- Sample) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open shard: %w", err)
	}
	defer f.Close()

	tr := tar.NewReader(bufio.NewReader(f))
	pending := make(map[string]*Sample)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar %s: %w", path, err)
		}
		if hdr.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(hdr.Name)
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ImageExt && ext != MaskExt {
			log.WithFields(log.Fields{"shard": path, "entry": name}).Debug("skipping unknown shard entry")
			continue
		}
		key := strings.TrimSuffix(name, filepath.Ext(name))
		v, err := volume.DecodeSized(tr, hdr.Size)
		if err != nil {
			return fmt.Errorf("decode %s in %s: %w", name, path, err)
		}

		part := pending[key]
		if part == nil {
			part = &Sample{Key: key}
			pending[key] = part
		}
		if ext == ImageExt {
			part.Image = v
		} else {
			part.Mask = v
		}
		if len(pending) > pendingCap {
			return ErrPendingOverflow
		}
		if part.Image == nil || part.Mask == nil {
			continue
		}
		delete(pending, key)
		if part.Image.Voxels() != part.Mask.Voxels() {
			return fmt.Errorf("sample %s in %s: image %v and mask %v disagree", key, path, part.Image.Shape, part.Mask.Shape)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- *part:
		}
	}

	if len(pending) > 0 {
		return fmt.Errorf("%w: %d in %s", ErrIncomplete, len(pending), path)
	}
	return nil
}

// WriteShard writes samples to a tar shard at path, creating parent
// directories as needed.
func WriteShard(path string, samples []Sample) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create shard dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create shard: %w", err)
	}
	tw := tar.NewWriter(f)
	for _, s := range samples {
		if err := addEntry(tw, s.Key+ImageExt, s.Image); err != nil {
			f.Close()
			return err
		}
		if err := addEntry(tw, s.Key+MaskExt, s.Mask); err != nil {
			f.Close()
			return err
		}
	}
	if err := tw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close tar: %w", err)
	}
	return f.Close()
}

func addEntry(tw *tar.Writer, name string, v *volume.Volume) error {
	var buf bytes.Buffer
	if err := volume.Encode(&buf, v); err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	hdr := &tar.Header{Name: name, Size: int64(buf.Len()), Mode: 0o644}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header %s: %w", name, err)
	}
	if _, err := tw.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// LoadShards reads every sample of every shard once, in shard order.
func LoadShards(ctx context.Context, shards []string) ([]Sample, error) {
	var samples []Sample
	for _, shard := range shards {
		stream, errCh := StreamShard(ctx, shard, 0)
		for s := range stream {
			samples = append(samples, s)
		}
		if err := <-errCh; err != nil {
			return nil, err
		}
	}
	return samples, nil
}
