// Package pulse runs a callback at exact multiples of an interval.
//
// A Pulse targets the absolute grid k*Interval + Offset (Unix milliseconds).
// The delay to the next grid point is recomputed from the time source after
// every cycle, so a slow callback delays at most the cycle it overlaps and
// never shifts the grid.
//
// Guarantees:
//   - cycles of one instance never overlap (a busy flag is checked and set under the instance lock)
//   - OnPulse failures are reported to OnError and the loop continues
//   - AfterPulse failures are fatal: the instance stops (without OnStop) and the
//     error is logged, kept in Err() and handed to OnFatal
//
// Every constructed instance is tracked weakly so StopAll can halt them at shutdown.
package pulse
