// Package isoweek は ISO-8601 の週 (月曜始まり, UTC) を扱います。
package isoweek

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/jinzhu/now"
)

var (
	weekPattern = regexp.MustCompile(`^(\d{4})-W(\d{2})$`)
	mondayUTC   = &now.Config{WeekStartDay: time.Monday, TimeLocation: time.UTC}
)

// Week は "2026-W06" のような ISO 週です。
type Week struct {
	Year   int
	Number int
}

// Of は t を含む ISO 週を返します。
func Of(t time.Time) Week {
	y, w := t.UTC().ISOWeek()
	return Week{Year: y, Number: w}
}

// Parse は "YYYY-Www" 形式を解析します。存在しない週番号はエラーです。
func Parse(s string) (Week, error) {
	m := weekPattern.FindStringSubmatch(s)
	if m == nil {
		return Week{}, fmt.Errorf("invalid ISO week %q: expected YYYY-Www (e.g. 2026-W06)", s)
	}
	year, _ := strconv.Atoi(m[1])
	num, _ := strconv.Atoi(m[2])
	if num < 1 || num > WeeksInYear(year) {
		return Week{}, fmt.Errorf("invalid ISO week %q: year %d has %d weeks", s, year, WeeksInYear(year))
	}
	return Week{Year: year, Number: num}, nil
}

// MustParse はテストと定数用です。
func MustParse(s string) Week {
	w, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return w
}

// WeeksInYear は ISO 年の週数 (52 または 53) を返します。12月28日は必ず最終週に属します。
func WeeksInYear(year int) int {
	return Of(time.Date(year, time.December, 28, 0, 0, 0, 0, time.UTC)).Number
}

// StartOfWeek は t を含む週の月曜 00:00 UTC を返します。
func StartOfWeek(t time.Time) time.Time {
	return mondayUTC.With(t.UTC()).BeginningOfWeek()
}

func (w Week) String() string {
	return fmt.Sprintf("%04d-W%02d", w.Year, w.Number)
}

// Start は週の月曜 00:00 UTC です。
func (w Week) Start() time.Time {
	jan4 := time.Date(w.Year, time.January, 4, 0, 0, 0, 0, time.UTC)
	return StartOfWeek(jan4).AddDate(0, 0, 7*(w.Number-1))
}

// End は翌週月曜 00:00 UTC (排他的) です。
func (w Week) End() time.Time {
	return w.Start().AddDate(0, 0, 7)
}

// LastDay は日曜日の日付です (表示用)。
func (w Week) LastDay() time.Time {
	return w.End().AddDate(0, 0, -1)
}

func (w Week) Next() Week { return Of(w.Start().AddDate(0, 0, 7)) }
func (w Week) Prev() Week { return Of(w.Start().AddDate(0, 0, -7)) }

func (w Week) Before(o Week) bool {
	return w.Year < o.Year || (w.Year == o.Year && w.Number < o.Number)
}

func (w Week) IsZero() bool { return w.Year == 0 && w.Number == 0 }

// Range は from から to まで (両端含む) の週を昇順で返します。from が to より後なら空です。
func Range(from, to Week) []Week {
	if to.Before(from) {
		return nil
	}
	var weeks []Week
	for w := from; !to.Before(w); w = w.Next() {
		weeks = append(weeks, w)
	}
	return weeks
}

// LastCompleted は t 時点で直近に終了した週を返します。
// 月曜 00:00 の実行ではちょうど前日までの週になります。
func LastCompleted(t time.Time) Week {
	return Of(StartOfWeek(t).AddDate(0, 0, -1))
}
