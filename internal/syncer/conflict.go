package syncer

import "time"

// boardFreshnessWindow guards against the Board's unreliable timestamps:
// a board timestamp older than this never outvotes Primary.
const boardFreshnessWindow = 24 * time.Hour

// conflictThresholdMS is the minimum timestamp gap treated as a real
// ordering; anything closer is noise and Primary wins.
const conflictThresholdMS = 1000

// primaryWinsConflict decides a both-sides-changed conflict from the two
// modification timestamps (ms epoch, nil when unknown). The bias runs
// toward Primary: the Board only wins with a fresh timestamp that is at
// least a full second newer.
func primaryWinsConflict(primaryMod, boardMod *int64, now time.Time) (bool, string) {
	if boardMod == nil {
		return true, "board timestamp missing"
	}
	if now.UnixMilli()-*boardMod > boardFreshnessWindow.Milliseconds() {
		return true, "board timestamp stale"
	}
	if primaryMod == nil {
		return true, "primary timestamp missing"
	}
	diff := *primaryMod - *boardMod
	switch {
	case diff >= conflictThresholdMS:
		return true, "primary newer"
	case diff <= -conflictThresholdMS:
		return false, "board newer"
	default:
		return true, "timestamps within threshold"
	}
}
