package engine

// CorrectLevel maps a requested refinement level onto [0, n). Negative
// requests count back from the finest level, so -1 is n-1. Requests past
// either end clamp to the nearest valid level. changed reports whether the
// request was out of range.
func CorrectLevel(req, n int) (level int, changed bool) {
	if n <= 0 {
		return 0, req != 0
	}
	switch {
	case req >= n:
		return n - 1, true
	case req < -n:
		return 0, true
	case req < 0:
		return n + req, false
	}
	return req, false
}

// CorrectLOD maps a requested level of detail onto the n available
// compression ratios with the same rule as CorrectLevel.
func CorrectLOD(req, n int) (lod int, changed bool) {
	return CorrectLevel(req, n)
}

// coordLevel picks the level of a coordinate variable that matches level
// of a data variable, aligning both hierarchies at their finest level.
func coordLevel(level, dataLevels, coordLevels int) int {
	l := coordLevels - 1 - (dataLevels - 1 - level)
	return max(0, min(l, coordLevels-1))
}
