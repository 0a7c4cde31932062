package syncer

import (
	"testing"
	"time"
)

func TestPrimaryWinsConflict(t *testing.T) {
	now := time.Now()
	ms := func(d time.Duration) *int64 {
		v := now.Add(d).UnixMilli()
		return &v
	}

	cases := []struct {
		name       string
		primaryMod *int64
		boardMod   *int64
		want       bool
	}{
		{"board missing", ms(0), nil, true},
		{"board stale", ms(0), ms(-25 * time.Hour), true},
		{"primary missing, board fresh", nil, ms(-time.Minute), true},
		{"primary a minute newer", ms(0), ms(-time.Minute), true},
		{"board a minute newer", ms(-time.Minute), ms(0), false},
		{"within one second", ms(0), ms(-500 * time.Millisecond), true},
	}

	for _, tc := range cases {
		got, reason := primaryWinsConflict(tc.primaryMod, tc.boardMod, now)
		if got != tc.want {
			t.Errorf("%s: primaryWins = %v (%s), want %v", tc.name, got, reason, tc.want)
		}
	}
}
