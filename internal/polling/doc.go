// Package polling runs the scheduled refresh loop for one CMV device.
//
// Every cycle issues five independent reads concurrently (operating
// status, indoor temperature, outdoor temperature, indoor humidity, LED
// state), waits for all of them and assembles one immutable Snapshot.
// The snapshot replaces the previous one wholesale and is handed to
// subscribers synchronously.
//
//	Idle -> Polling -> Published -> Idle
//	               \-> Failed ----/
//
// Reads never fail outright: the device client turns connectivity errors
// into absent values. A cycle fails only on the defensive path (a read
// panics or the context ends mid-cycle); the previous snapshot then stays
// current and LastUpdateSuccess reports false until the next good cycle.
//
// A snapshot whose five reads all came back empty is still published, with
// Reachable false. Available combines both signals.
//
// Control actions call RequestRefresh after their command succeeds.
// Requests arriving while a cycle runs collapse into one follow-up cycle,
// and cycles for one device never overlap.
package polling
