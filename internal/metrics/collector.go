package metrics

import "sync/atomic"

// Counter is an atomic int64 that also feeds an optional parent, so a
// per-analysis collector rolls up into the process-wide one.
type Counter struct {
	v      atomic.Int64
	parent *Counter
}

func (c *Counter) Add(n int64) {
	c.v.Add(n)
	if c.parent != nil {
		c.parent.Add(n)
	}
}

func (c *Counter) Load() int64 {
	return c.v.Load()
}

// Collector holds pipeline counters. LeakedWorkers is a gauge: classifier
// calls abandoned at their deadline that have not returned yet.
type Collector struct {
	FramesRead         Counter
	FramesDropped      Counter
	FacelessFrames     Counter
	DegradedFrames     Counter
	ChunksEmitted      Counter
	ChunksScored       Counter
	InferenceTimeouts  Counter
	InferenceFailures  Counter
	ContractViolations Counter
	LeakedWorkers      Counter
}

func NewCollector() *Collector {
	return &Collector{}
}

// Child returns a collector whose updates are also applied to c.
func (c *Collector) Child() *Collector {
	child := &Collector{}
	child.FramesRead.parent = &c.FramesRead
	child.FramesDropped.parent = &c.FramesDropped
	child.FacelessFrames.parent = &c.FacelessFrames
	child.DegradedFrames.parent = &c.DegradedFrames
	child.ChunksEmitted.parent = &c.ChunksEmitted
	child.ChunksScored.parent = &c.ChunksScored
	child.InferenceTimeouts.parent = &c.InferenceTimeouts
	child.InferenceFailures.parent = &c.InferenceFailures
	child.ContractViolations.parent = &c.ContractViolations
	child.LeakedWorkers.parent = &c.LeakedWorkers
	return child
}

// Snapshot is a consistent-enough copy of the counters for reporting.
type Snapshot struct {
	FramesRead         int64 `json:"frames_read"`
	FramesDropped      int64 `json:"frames_dropped"`
	FacelessFrames     int64 `json:"faceless_frames"`
	DegradedFrames     int64 `json:"degraded_frames"`
	ChunksEmitted      int64 `json:"chunks_emitted"`
	ChunksScored       int64 `json:"chunks_scored"`
	InferenceTimeouts  int64 `json:"inference_timeouts"`
	InferenceFailures  int64 `json:"inference_failures"`
	ContractViolations int64 `json:"contract_violations"`
	LeakedWorkers      int64 `json:"leaked_workers"`
}

func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		FramesRead:         c.FramesRead.Load(),
		FramesDropped:      c.FramesDropped.Load(),
		FacelessFrames:     c.FacelessFrames.Load(),
		DegradedFrames:     c.DegradedFrames.Load(),
		ChunksEmitted:      c.ChunksEmitted.Load(),
		ChunksScored:       c.ChunksScored.Load(),
		InferenceTimeouts:  c.InferenceTimeouts.Load(),
		InferenceFailures:  c.InferenceFailures.Load(),
		ContractViolations: c.ContractViolations.Load(),
		LeakedWorkers:      c.LeakedWorkers.Load(),
	}
}

// Skipped is the number of chunks that produced no score.
func (s Snapshot) Skipped() int64 {
	return s.InferenceTimeouts + s.InferenceFailures + s.ContractViolations
}

// Values flattens the snapshot into metric name/value pairs.
func (s Snapshot) Values() map[string]float64 {
	return map[string]float64{
		"frames_read":         float64(s.FramesRead),
		"frames_dropped":      float64(s.FramesDropped),
		"faceless_frames":     float64(s.FacelessFrames),
		"degraded_frames":     float64(s.DegradedFrames),
		"chunks_emitted":      float64(s.ChunksEmitted),
		"chunks_scored":       float64(s.ChunksScored),
		"inference_timeouts":  float64(s.InferenceTimeouts),
		"inference_failures":  float64(s.InferenceFailures),
		"contract_violations": float64(s.ContractViolations),
		"leaked_workers":      float64(s.LeakedWorkers),
	}
}
