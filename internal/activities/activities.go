// Package activities is the standard activity library: composites that
// sequence, branch, loop, and fan out, plus leaves that assign, compute,
// print, and receive external input. Every activity here is stateless;
// per-run bookkeeping (such as a sequence cursor) lives in a declared
// variable so it survives checkpoints with the rest of the environment.
package activities

// asInt normalizes the integer shapes a variable read can yield; values
// that round-trip a JSON snapshot may come back widened.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
