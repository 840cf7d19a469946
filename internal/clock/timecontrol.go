package clock

import "strings"

// TimeControl names a base allotment per side. There is no increment.
type TimeControl string

const (
	Bullet1 TimeControl = "bullet_1"
	Bullet2 TimeControl = "bullet_2"
	Blitz3  TimeControl = "blitz_3"
	Blitz5  TimeControl = "blitz_5"
	Rapid10 TimeControl = "rapid_10"
	Rapid15 TimeControl = "rapid_15"
)

var baseMillis = map[TimeControl]int64{
	Bullet1: 60_000,
	Bullet2: 120_000,
	Blitz3:  180_000,
	Blitz5:  300_000,
	Rapid10: 600_000,
	Rapid15: 900_000,
}

// All lists the time controls in ascending order.
var All = []TimeControl{Bullet1, Bullet2, Blitz3, Blitz5, Rapid10, Rapid15}

func ParseTimeControl(s string) (TimeControl, bool) {
	tc := TimeControl(strings.ToLower(strings.TrimSpace(s)))
	_, ok := baseMillis[tc]
	return tc, ok
}

func (tc TimeControl) Valid() bool {
	_, ok := baseMillis[tc]
	return ok
}

// BaseMillis is the starting time per side, 0 for unknown controls.
func (tc TimeControl) BaseMillis() int64 { return baseMillis[tc] }

// Category is the rating bucket: bullet, blitz or rapid.
func (tc TimeControl) Category() string {
	s := string(tc)
	if i := strings.IndexByte(s, '_'); i > 0 {
		return s[:i]
	}
	return s
}
