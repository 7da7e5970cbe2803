package schedule

import (
	"errors"
	"testing"

	"facilitrack/internal/domain"
)

func TestBetweenInclusive(t *testing.T) {
	d := domain.MustDate
	cases := []struct {
		name       string
		start, end domain.Date
		want       Duration
	}{
		{"same day", d("2024-01-05"), d("2024-01-05"), Duration{Days: 1}},
		{"three days", d("2024-01-05"), d("2024-01-07"), Duration{Days: 3}},
		{"across month", d("2024-01-31"), d("2024-02-01"), Duration{Days: 2}},
		{"missing start", domain.Date{}, d("2024-01-07"), Duration{}},
		{"missing end", d("2024-01-05"), domain.Date{}, Duration{}},
		{"end before start", d("2024-01-05"), d("2024-01-03"), Duration{Invalid: true}},
	}
	for _, tc := range cases {
		got := Between(tc.start, tc.end)
		if got != tc.want {
			t.Fatalf("%s: got %+v want %+v", tc.name, got, tc.want)
		}
	}
}

func TestBetweenMonotonicInEnd(t *testing.T) {
	start := domain.MustDate("2024-03-01")
	prev := -1
	for i := 0; i < 60; i++ {
		cur := Between(start, start.AddDays(i)).TotalMinutes()
		if cur < prev {
			t.Fatalf("duration decreased at +%d days: %d < %d", i, cur, prev)
		}
		prev = cur
	}
	if !Between(start, start.AddDays(-1)).Invalid {
		t.Fatalf("expected invalid duration when end precedes start")
	}
}

func TestWindowEndBeforeStart(t *testing.T) {
	w := Window{Start: domain.MustDate("2024-01-01"), End: domain.MustDate("2024-01-31")}
	err := w.CheckRange(domain.MustDate("2024-01-05"), domain.MustDate("2024-01-03"))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var errs Errors
	if !errors.As(err, &errs) {
		t.Fatalf("expected Errors, got %T", err)
	}
	if v := errs.Field(domain.FieldEndDate); v == nil || v.Code != CodeEndBeforeStart {
		t.Fatalf("expected end_before_start on end date, got %v", errs)
	}
}

func TestWindowBounds(t *testing.T) {
	w := Window{Start: domain.MustDate("2024-01-01"), End: domain.MustDate("2024-01-31")}
	if err := w.CheckRange(domain.MustDate("2024-01-01"), domain.MustDate("2024-01-31")); err != nil {
		t.Fatalf("inclusive bounds should pass: %v", err)
	}
	err := w.CheckRange(domain.MustDate("2023-12-31"), domain.MustDate("2024-01-10"))
	var errs Errors
	if !errors.As(err, &errs) || errs.Field(domain.FieldStartDate).Code != CodeBeforeWindow {
		t.Fatalf("expected before_window, got %v", err)
	}
	err = w.CheckEnd(domain.MustDate("2024-01-10"), domain.MustDate("2024-02-01"))
	if !errors.As(err, &errs) || errs.Field(domain.FieldEndDate).Code != CodeAfterWindow {
		t.Fatalf("expected after_window, got %v", err)
	}
	err = w.CheckRange(domain.Date{}, domain.Date{})
	if !errors.As(err, &errs) || len(errs) != 2 {
		t.Fatalf("expected two required errors, got %v", err)
	}
}

func TestParentWindowDefaultsToToday(t *testing.T) {
	today := domain.MustDate("2024-06-10")
	w := ParentWindow(domain.Task{}, today)
	if !w.Start.Equal(today) || !w.End.IsZero() {
		t.Fatalf("unexpected window %+v", w)
	}
	if err := w.CheckStart(domain.MustDate("2030-01-01"), domain.Date{}); err != nil {
		t.Fatalf("open-ended window should accept far future: %v", err)
	}
	if err := w.CheckStart(domain.MustDate("2024-06-09"), domain.Date{}); err == nil {
		t.Fatalf("expected start before today to fail")
	}
}
