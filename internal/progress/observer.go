package progress

import (
	"time"

	"github.com/google/uuid"
)

// DefaultEvery is how many merged groups pass between GROUPS_MERGED events.
const DefaultEvery = 500

// GroupObserver converts merge callbacks into Events for one run. It satisfies
// dedup.Observer and is safe for concurrent use.
type GroupObserver struct {
	emitter Emitter
	runID   [16]byte
	every   int
	now     func() time.Time
}

// NewGroupObserver reports progress for runID every `every` groups and on the
// final group. A nil emitter yields an observer that does nothing.
func NewGroupObserver(emitter Emitter, runID uuid.UUID, every int) *GroupObserver {
	if every <= 0 {
		every = DefaultEvery
	}
	return &GroupObserver{
		emitter: emitter,
		runID:   UUIDToBytes(runID),
		every:   every,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// OnGroupProcessed emits a GROUPS_MERGED event on every Nth group and on the last.
func (o *GroupObserver) OnGroupProcessed(processed, total int) {
	if o == nil || o.emitter == nil {
		return
	}
	if processed%o.every != 0 && processed != total {
		return
	}
	o.emitter.Emit(Event{
		RunID:     o.runID,
		TS:        o.now(),
		Stage:     StageGroupsMerged,
		Processed: int64(processed),
		Total:     int64(total),
	})
}

// Start emits RUN_START with the input record count.
func (o *GroupObserver) Start(records int) {
	o.emit(Event{Stage: StageRunStart, Records: int64(records)})
}

// Done emits RUN_DONE with the output record count and elapsed time.
func (o *GroupObserver) Done(records int, dur time.Duration) {
	o.emit(Event{Stage: StageRunDone, Records: int64(records), Dur: dur})
}

// Fail emits RUN_ERROR carrying the error text.
func (o *GroupObserver) Fail(err error, dur time.Duration) {
	evt := Event{Stage: StageRunError, Dur: dur}
	if err != nil {
		evt.Note = err.Error()
	}
	o.emit(evt)
}

func (o *GroupObserver) emit(evt Event) {
	if o == nil || o.emitter == nil {
		return
	}
	evt.RunID = o.runID
	evt.TS = o.now()
	o.emitter.Emit(evt)
}
