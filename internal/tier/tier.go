// Package tier maps a referral count to a referrer tier and its bonus.
package tier

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Level is one row of the tier table.
type Level struct {
	Number   int
	Bonus    int64
	Required int
}

// Table is an ordered, validated tier table. It is read-only once built.
type Table struct {
	levels []Level
}

// DefaultLevels is the table the program shipped with.
var DefaultLevels = []Level{
	{Number: 1, Bonus: 100, Required: 0},
	{Number: 2, Bonus: 200, Required: 5},
	{Number: 3, Bonus: 300, Required: 10},
	{Number: 4, Bonus: 500, Required: 20},
}

// NewTable validates levels: numbers and required counts strictly increasing,
// the first level required at zero referrals, bonuses not negative.
func NewTable(levels []Level) (*Table, error) {
	if len(levels) == 0 {
		return nil, errors.New("tier table is empty")
	}

	sorted := make([]Level, len(levels))
	copy(sorted, levels)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })

	if sorted[0].Required != 0 {
		return nil, errors.Errorf("tier %d must require 0 referrals, got %d", sorted[0].Number, sorted[0].Required)
	}
	if sorted[0].Number < 1 {
		return nil, errors.Errorf("tier numbers start at 1, got %d", sorted[0].Number)
	}

	for i, l := range sorted {
		if l.Bonus < 0 {
			return nil, errors.Errorf("tier %d has negative bonus %d", l.Number, l.Bonus)
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if l.Number == prev.Number {
			return nil, errors.Errorf("tier %d is listed twice", l.Number)
		}
		if l.Required <= prev.Required {
			return nil, errors.Errorf("tier %d requires %d referrals, not more than tier %d (%d)",
				l.Number, l.Required, prev.Number, prev.Required)
		}
	}

	return &Table{levels: sorted}, nil
}

// MustTable is NewTable for static tables known to be valid.
func MustTable(levels []Level) *Table {
	t, err := NewTable(levels)
	if err != nil {
		panic(err)
	}
	return t
}

// Parse reads "tier:bonus:required" entries separated by commas,
// e.g. "1:100:0,2:200:5".
func Parse(raw string) (*Table, error) {
	var levels []Level
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, errors.Errorf("tier entry %q: want tier:bonus:required", entry)
		}

		number, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, errors.Wrapf(err, "tier entry %q: tier number", entry)
		}
		bonus, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "tier entry %q: bonus", entry)
		}
		required, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil {
			return nil, errors.Wrapf(err, "tier entry %q: required referrals", entry)
		}

		levels = append(levels, Level{Number: number, Bonus: bonus, Required: required})
	}

	return NewTable(levels)
}

// For returns the highest level whose required count is at most count.
// Negative counts are treated as zero.
func (t *Table) For(count int) Level {
	i := sort.Search(len(t.levels), func(i int) bool {
		return t.levels[i].Required > count
	})
	if i == 0 {
		return t.levels[0]
	}
	return t.levels[i-1]
}

// Level returns the row for a tier number.
func (t *Table) Level(number int) (Level, bool) {
	for _, l := range t.levels {
		if l.Number == number {
			return l, true
		}
	}
	return Level{}, false
}

// Next returns the level after number, if any.
func (t *Table) Next(number int) (Level, bool) {
	for _, l := range t.levels {
		if l.Number > number {
			return l, true
		}
	}
	return Level{}, false
}

func (t *Table) Levels() []Level {
	out := make([]Level, len(t.levels))
	copy(out, t.levels)
	return out
}

func (t *Table) String() string {
	parts := make([]string, 0, len(t.levels))
	for _, l := range t.levels {
		parts = append(parts, strconv.Itoa(l.Number)+":"+strconv.FormatInt(l.Bonus, 10)+":"+strconv.Itoa(l.Required))
	}
	return strings.Join(parts, ",")
}
