// Package probe implements the individual stages of a connectivity
// diagnostic: DNS resolution, bulk reachability, the detailed TCP connect,
// the TLS handshake and the greeting read.
//
// Every stage takes the run's transcript explicitly and writes its own
// lines to it. Stages never retain the transcript after they return, and
// operations abandoned on timeout never write to it.
//
// Connection ownership moves forward only. Connect returns a Handle; the
// TLS stage wraps the handle's connection in place; ReadGreeting is the
// terminal owner and always closes it. Handle.Close is idempotent, so a
// caller may also defer it as a guard on every exit path.
package probe
