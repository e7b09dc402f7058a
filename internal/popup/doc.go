// Package popup coordinates a verification flow that runs in a secondary
// browsing context (popup window or tab) and relays its outcome back to the
// initiating page, however deeply that page is embedded.
//
// A Manager owns at most one active flow. Each call to Manager.Open
// classifies the execution environment, opens the secondary context through
// the matching strategy and arms exactly one of the closure watchdog or the
// tab tracker. The outcome of an attempt is delivered exactly once through
// the returned Flow.
package popup
