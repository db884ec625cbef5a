// Package pagination drives a network's list endpoint until exhaustion and
// reports how much of the declared total was fetched.
package pagination

import (
	"context"
	"fmt"
	"time"

	"affsync/internal/domain"
)

// Page is one answer of a list endpoint. Next nil means no further page.
type Page[T any] struct {
	Items         []T
	Next          *int
	DeclaredTotal *int
}

type PageFunc[T any] func(ctx context.Context, cursor int) (Page[T], error)

type Options struct {
	// MaxPages bounds the number of calls, 0 means unbounded.
	MaxPages int
	// MaxDays bounds the width of a Days range, 0 means unbounded.
	MaxDays int
	// Delay is waited between consecutive requests.
	Delay time.Duration
	Sleep func(ctx context.Context, d time.Duration) error
}

type Result[T any] struct {
	Items         []T
	Calls         int
	DeclaredTotal *int
}

func (r Result[T]) Completeness() domain.Completeness {
	return domain.NewCompleteness(len(r.Items), r.DeclaredTotal)
}

// Fetch calls fetch from start until Next is nil, a page is empty, the
// declared total is reached or MaxPages calls were made. On error the items
// fetched so far are returned with it.
func Fetch[T any](ctx context.Context, start int, fetch PageFunc[T], opts Options) (Result[T], error) {
	var res Result[T]
	cursor := start

	for {
		if res.Calls > 0 {
			if err := wait(ctx, opts); err != nil {
				return res, err
			}
		}

		page, err := fetch(ctx, cursor)
		res.Calls++
		if err != nil {
			return res, err
		}
		res.Items = append(res.Items, page.Items...)
		if page.DeclaredTotal != nil {
			total := *page.DeclaredTotal
			res.DeclaredTotal = &total
		}

		switch {
		case page.Next == nil, len(page.Items) == 0:
			return res, nil
		case res.DeclaredTotal != nil && len(res.Items) >= *res.DeclaredTotal:
			return res, nil
		case opts.MaxPages > 0 && res.Calls >= opts.MaxPages:
			return res, nil
		}
		cursor = *page.Next
	}
}

// Offsets requests each offset in order and stops early on a page shorter
// than pageSize or once the declared total is reached.
func Offsets[T any](ctx context.Context, offsets []int, pageSize int, fetch PageFunc[T], opts Options) (Result[T], error) {
	var res Result[T]

	for i, offset := range offsets {
		if i > 0 {
			if err := wait(ctx, opts); err != nil {
				return res, err
			}
		}

		page, err := fetch(ctx, offset)
		res.Calls++
		if err != nil {
			return res, err
		}
		res.Items = append(res.Items, page.Items...)
		if page.DeclaredTotal != nil {
			total := *page.DeclaredTotal
			res.DeclaredTotal = &total
		}

		if len(page.Items) < pageSize {
			break
		}
		if res.DeclaredTotal != nil && len(res.Items) >= *res.DeclaredTotal {
			break
		}
	}
	return res, nil
}

// OffsetList builds [0, size, 2*size, ...] with n entries.
func OffsetList(pageSize, n int) []int {
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, i*pageSize)
	}
	return out
}

// DayFunc fetches every record of one calendar day.
type DayFunc[T any] func(ctx context.Context, day time.Time) (Result[T], error)

// Days walks [from, to] one calendar day at a time. Declared totals of the
// days are summed; a day without a total makes the sum unknown. A range
// wider than MaxDays is rejected before any call.
func Days[T any](ctx context.Context, from, to time.Time, fetch DayFunc[T], opts Options) (Result[T], int, error) {
	var res Result[T]
	first, last := truncateDay(from), truncateDay(to)
	if opts.MaxDays > 0 {
		if span := DaySpan(first, last); span > opts.MaxDays {
			return res, 0, fmt.Errorf("%w: range covers %d days, at most %d allowed", domain.ErrInvalidConfig, span, opts.MaxDays)
		}
	}

	days := 0
	total := 0
	totalKnown := true

	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		if days > 0 {
			if err := wait(ctx, opts); err != nil {
				return res, days, err
			}
		}

		dayRes, err := fetch(ctx, day)
		days++
		res.Calls += dayRes.Calls
		res.Items = append(res.Items, dayRes.Items...)
		if dayRes.DeclaredTotal != nil {
			total += *dayRes.DeclaredTotal
		} else {
			totalKnown = false
		}
		if err != nil {
			return res, days, err
		}
	}

	if totalKnown && days > 0 {
		res.DeclaredTotal = &total
	}
	return res, days, nil
}

// DaySpan counts the calendar days in [from, to].
func DaySpan(from, to time.Time) int {
	// counted in UTC so a DST day is still one day
	first := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	last := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	if last.Before(first) {
		return 0
	}
	return int(last.Sub(first).Hours()/24) + 1
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func wait(ctx context.Context, opts Options) error {
	if opts.Delay <= 0 {
		return ctx.Err()
	}
	if opts.Sleep != nil {
		return opts.Sleep(ctx, opts.Delay)
	}
	return Sleep(ctx, opts.Delay)
}

// Sleep waits d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
