// Package planner computes and replans the byte-range segmentation of a
// download job.
package planner

// Segment is a contiguous byte range assigned to one worker.
//
// Offset is the inclusive start of the range relative to the resource.
// Length is the number of bytes in the range. Written is how many of
// those bytes have already been persisted to disk; it never exceeds
// Length and never decreases across a Plan call.
type Segment struct {
	Offset  int64 `json:"offset"`
	Length  int64 `json:"length"`
	Written int64 `json:"written"`
}

// Remaining returns the number of bytes left to fetch for this segment.
func (s Segment) Remaining() int64 {
	return s.Length - s.Written
}

// Done reports whether the segment has been fully received.
func (s Segment) Done() bool {
	return s.Written >= s.Length
}

// End returns the inclusive end offset of the segment.
func (s Segment) End() int64 {
	return s.Offset + s.Length - 1
}

// Plan computes the segmentation for a job.
//
//   - If the server doesn't support ranges, or the total size is unknown
//     (0), a single segment covering the whole (possibly unknown) length
//     is returned; the effective worker count is 1.
//   - If an existing segmentation is supplied (resume), it is returned
//     unchanged so that `Written` offsets stay valid — the worker count
//     requested on this run is ignored in favor of whatever was persisted,
//     since re-partitioning would invalidate already-written byte ranges.
//   - Otherwise the full range is split into `workers` contiguous,
//     approximately equal segments; the last segment absorbs the
//     remainder.
func Plan(totalBytes int64, workers int, rangesSupported bool, existing []Segment) []Segment {
	if len(existing) > 0 {
		out := make([]Segment, len(existing))
		copy(out, existing)
		return out
	}

	if !rangesSupported || totalBytes <= 0 {
		return []Segment{{Offset: 0, Length: totalBytes}}
	}

	if workers < 1 {
		workers = 1
	}
	if int64(workers) > totalBytes {
		workers = int(totalBytes)
		if workers < 1 {
			workers = 1
		}
	}

	base := totalBytes / int64(workers)
	if base < 1 {
		base = 1
	}

	segments := make([]Segment, 0, workers)
	var offset int64
	for i := 0; i < workers; i++ {
		length := base
		if i == workers-1 {
			length = totalBytes - offset
		}
		if length <= 0 {
			break
		}
		segments = append(segments, Segment{Offset: offset, Length: length})
		offset += length
	}
	return segments
}

// TotalLength sums the Length of every segment.
func TotalLength(segments []Segment) int64 {
	var total int64
	for _, s := range segments {
		total += s.Length
	}
	return total
}

// TotalWritten sums the Written of every segment.
func TotalWritten(segments []Segment) int64 {
	var total int64
	for _, s := range segments {
		total += s.Written
	}
	return total
}

// AllDone reports whether every segment has reached its Length.
func AllDone(segments []Segment) bool {
	for _, s := range segments {
		if !s.Done() {
			return false
		}
	}
	return true
}
