package common

import "fmt"

// Assert checks a condition and panics if it is false.
//
// Assertions guard internal invariants of the log buffers (cursor arithmetic
// that user input cannot influence). Conditions callers can trigger, such as
// oversized payloads, full buffers or disk errors, are returned as VLogError
// values instead.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
