package status

import (
	"context"
	"time"

	"github.com/doridoridoriand/tunnelwatch/internal/metric"
	"github.com/doridoridoriand/tunnelwatch/internal/state"
)

// LastCheckLayout formats Record.LastCheck in local time.
const LastCheckLayout = "2006-01-02 15:04:05"

// Record is the observability snapshot written every iteration.
// It is never read back by the loop.
type Record struct {
	ClientCount int     `json:"client_count"`
	Threshold   int     `json:"threshold"`
	LastState   *string `json:"last_state"`
	Timestamp   float64 `json:"timestamp"`
	LastCheck   string  `json:"last_check"`
}

// NewRecord builds the snapshot for one iteration. UNKNOWN is written as null.
func NewRecord(sample metric.Sample, threshold int, last state.DesiredState) Record {
	rec := Record{
		ClientCount: sample.Count,
		Threshold:   threshold,
		Timestamp:   float64(sample.ObservedAt.UnixNano()) / float64(time.Second),
		LastCheck:   sample.ObservedAt.Local().Format(LastCheckLayout),
	}
	if last.Valid() {
		s := last.String()
		rec.LastState = &s
	}
	return rec
}

// Publisher delivers a Record somewhere external consumers can see it.
type Publisher interface {
	Publish(ctx context.Context, rec Record) error
}
