// Package effort implements the receipt pipeline: activity signals are
// grouped into deterministic segments, scored against a fixed rubric, and
// turned into hash-chained effort receipts.
package effort

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/canonicalize"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/contracts"
)

// NewSignal builds a signal with its content hash.
func NewSignal(modality, content string, at time.Time) contracts.Signal {
	payload := fmt.Sprintf("%s|%s|%d", modality, content, at.UnixMilli())
	return contracts.Signal{
		ID:        uuid.NewString(),
		Modality:  modality,
		Timestamp: at,
		Content:   content,
		Hash:      canonicalize.HashBytes([]byte(payload)),
	}
}

// Segmenter groups signals by one of three deterministic rules.
type Segmenter struct {
	Strategy contracts.SegmentationStrategy
	Window   time.Duration // time_window and hybrid
	Gap      time.Duration // activity_boundary and hybrid
}

// Segment partitions the signals. Input order does not matter; signals are
// sorted by timestamp (ties by hash) before grouping, so the same set always
// yields the same segments.
func (s *Segmenter) Segment(signals []contracts.Signal) []contracts.Segment {
	if len(signals) == 0 {
		return nil
	}
	sorted := make([]contracts.Signal, len(signals))
	copy(sorted, signals)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].Hash < sorted[j].Hash
	})

	var segments []contracts.Segment
	start := 0
	windowStart := sorted[0].Timestamp
	for i := 1; i <= len(sorted); i++ {
		if i < len(sorted) && !s.boundary(sorted[i-1], sorted[i], windowStart) {
			continue
		}
		group := sorted[start:i]
		segments = append(segments, contracts.Segment{
			SegmentID: uuid.NewString(),
			Strategy:  s.Strategy,
			Signals:   append([]contracts.Signal(nil), group...),
			StartedAt: group[0].Timestamp,
			EndedAt:   group[len(group)-1].Timestamp,
		})
		if i < len(sorted) {
			start = i
			windowStart = sorted[i].Timestamp
		}
	}
	return segments
}

// boundary reports whether next starts a new segment. Windows are aligned
// to each segment's first signal.
func (s *Segmenter) boundary(prev, next contracts.Signal, windowStart time.Time) bool {
	switch s.Strategy {
	case contracts.SegmentTimeWindow:
		return next.Timestamp.Sub(windowStart) >= s.Window
	case contracts.SegmentActivityBoundary:
		return next.Timestamp.Sub(prev.Timestamp) > s.Gap
	case contracts.SegmentHybrid:
		return next.Timestamp.Sub(windowStart) >= s.Window ||
			next.Timestamp.Sub(prev.Timestamp) > s.Gap
	default:
		return false
	}
}
