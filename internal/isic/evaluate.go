package isic

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// Match pairs one ground-truth box with the detector's best box, if any.
type Match struct {
	ID    string
	Truth Box
	Pred  *Box
	IOU   float32
}

// Report summarises a partition.
type Report struct {
	Matches  []Match
	Detected int
	MeanIOU  float32
}

// Compare scores the predictions in predDir (YOLO txt files named like the
// ground-truth labels, optionally with confidences) against the labels of
// partition. Images without a prediction file count as missed with IoU 0.
func Compare(root, partition, predDir string, size int) (*Report, error) {
	if size <= 0 {
		size = DefaultSize
	}
	ids, err := ScanPartition(root, partition)
	if err != nil {
		return nil, err
	}
	report := &Report{}
	var sum float32
	for _, id := range ids {
		truths, err := ReadLabelFile(LabelPath(root, partition, id))
		if err != nil {
			return nil, err
		}
		truth, ok := Best(truths)
		if !ok {
			log.WithField("id", id).Warn("label file has no boxes")
			continue
		}
		m := Match{ID: id, Truth: truth}

		preds, err := ReadLabelFile(filepath.Join(predDir, "ISIC_"+id+".txt"))
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if p, ok := Best(preds); ok {
				m.Pred = &p
				m.IOU = truth.Pixels(size).IOU(p.Pixels(size))
				report.Detected++
			}
		}
		sum += m.IOU
		report.Matches = append(report.Matches, m)
	}
	if len(report.Matches) > 0 {
		report.MeanIOU = sum / float32(len(report.Matches))
	}
	return report, nil
}

// WriteOverlays renders every match of report into outDir as ISIC_<id>.png.
func WriteOverlays(root, partition, outDir string, size int, report *Report) error {
	for _, m := range report.Matches {
		out := filepath.Join(outDir, "ISIC_"+m.ID+".png")
		if err := RenderOverlay(ImagePath(root, partition, m.ID), size, m.Truth, m.Pred, out); err != nil {
			return fmt.Errorf("%s: %w", m.ID, err)
		}
	}
	return nil
}
