package restore

import "time"

// OperationRestore is the job operation name of a restore
const OperationRestore = "restore-disk-image"

// Progress is one update of a running restore
type Progress struct {
	Operation       string
	Description     string
	Bytes           uint64
	Completed       uint64
	Progress        float64
	Rate            uint64
	Cancelable      bool
	ExpectedEndTime time.Time
}

// ProgressSink receives progress updates. Implementations must not block.
type ProgressSink interface {
	Update(p Progress)
}

type nopSink struct{}

func (nopSink) Update(Progress) {}
