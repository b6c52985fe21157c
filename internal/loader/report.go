package loader

import "github.com/raphaelgruber/moviesync/internal/models"

// failureReport keeps the most recent n document failures.
type failureReport struct {
	buf  []models.DocumentFailure
	next int
	full bool
}

func newFailureReport(n int) *failureReport {
	return &failureReport{buf: make([]models.DocumentFailure, n)}
}

func (r *failureReport) add(fs ...models.DocumentFailure) {
	if len(r.buf) == 0 {
		return
	}
	for _, f := range fs {
		r.buf[r.next] = f
		r.next = (r.next + 1) % len(r.buf)
		if r.next == 0 {
			r.full = true
		}
	}
}

// items returns the kept failures, oldest first.
func (r *failureReport) items() []models.DocumentFailure {
	if !r.full {
		out := make([]models.DocumentFailure, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]models.DocumentFailure, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}
