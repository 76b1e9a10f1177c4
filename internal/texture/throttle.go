package texture

import "time"

// DefaultUploadBudget is the per-frame wall-clock time spent on uploads.
const DefaultUploadBudget = 10 * time.Millisecond

type uploadEntry struct {
	src *Source
	img *Image
}

// Throttle holds decoded images waiting for upload and performs as many
// uploads per frame as fit in its budget. The newest entry is uploaded first.
type Throttle struct {
	backlog []uploadEntry
	budget  time.Duration
	now     func() time.Time
	upload  func(src *Source, img *Image)
}

// NewThrottle returns a Throttle that calls upload for each entry it
// processes. now defaults to time.Now.
func NewThrottle(budget time.Duration, now func() time.Time, upload func(*Source, *Image)) *Throttle {
	if budget <= 0 {
		budget = DefaultUploadBudget
	}
	if now == nil {
		now = time.Now
	}
	return &Throttle{budget: budget, now: now, upload: upload}
}

// Add queues img for src.
func (t *Throttle) Add(src *Source, img *Image) {
	t.backlog = append(t.backlog, uploadEntry{src: src, img: img})
}

// Len returns the number of queued uploads.
func (t *Throttle) Len() int { return len(t.backlog) }

// Budget returns the per-frame upload budget.
func (t *Throttle) Budget() time.Duration { return t.budget }

// ProcessSome uploads queued entries, newest first, until the backlog is
// empty or the budget is spent. At least one entry is uploaded when the
// backlog is not empty. An upload is never interrupted; the clock is only
// checked between uploads. It returns the number of uploads performed.
func (t *Throttle) ProcessSome() int {
	if len(t.backlog) == 0 {
		return 0
	}
	start := t.now()
	done := 0
	for len(t.backlog) > 0 {
		last := len(t.backlog) - 1
		entry := t.backlog[last]
		t.backlog[last] = uploadEntry{}
		t.backlog = t.backlog[:last]

		t.upload(entry.src, entry.img)
		done++
		if t.now().Sub(start) >= t.budget {
			break
		}
	}
	return done
}

// Remove drops every queued entry for src. It has no other effect and may be
// called for sources that have nothing queued.
func (t *Throttle) Remove(src *Source) {
	kept := t.backlog[:0]
	for _, entry := range t.backlog {
		if entry.src != src {
			kept = append(kept, entry)
		}
	}
	for i := len(kept); i < len(t.backlog); i++ {
		t.backlog[i] = uploadEntry{}
	}
	t.backlog = kept
}
