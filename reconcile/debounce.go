package reconcile

import (
	"time"

	"github.com/hazyhaar/webcleaner/dom/mutation"
	"github.com/hazyhaar/webcleaner/idgen"
)

// DefaultDebounce is the quiet period before a re-scan.
const DefaultDebounce = 200 * time.Millisecond

// maxBuffer caps the records kept for a batch. Extra records are counted,
// not kept; they never force an early flush.
const maxBuffer = 1000

// debouncer collects structural records and exposes a timer that fires once
// the page has been quiet for window. Each new record replaces the pending
// timer, so only the latest one can fire.
type debouncer struct {
	window  time.Duration
	pageURL string
	newID   idgen.Generator

	records []mutation.Record
	dropped int
	seq     uint64
	timer   *time.Timer
	timerCh <-chan time.Time
}

func newDebouncer(window time.Duration, pageURL string, gen idgen.Generator) *debouncer {
	if window <= 0 {
		window = DefaultDebounce
	}
	if gen == nil {
		gen = idgen.Prefixed("btc_", idgen.Default)
	}
	return &debouncer{window: window, pageURL: pageURL, newID: gen}
}

func (d *debouncer) add(rec mutation.Record) {
	if len(d.records) < maxBuffer {
		d.records = append(d.records, rec)
	} else {
		d.dropped++
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.NewTimer(d.window)
	d.timerCh = d.timer.C
}

// timerC fires when the window expires. Nil while nothing is pending.
func (d *debouncer) timerC() <-chan time.Time {
	return d.timerCh
}

func (d *debouncer) pending() bool {
	return d.timer != nil
}

// flush returns the buffered records as a batch and disarms the timer.
func (d *debouncer) flush() mutation.Batch {
	d.seq++
	b := mutation.Batch{
		ID:        d.newID(),
		PageURL:   d.pageURL,
		Seq:       d.seq,
		Records:   mutation.Compress(d.records),
		Dropped:   d.dropped,
		Timestamp: time.Now().UnixMilli(),
	}
	d.records = nil
	d.dropped = 0
	d.stop()
	return b
}

func (d *debouncer) stop() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
		d.timerCh = nil
	}
}
