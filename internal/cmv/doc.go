// Package cmv implements the client for Helty Flow controlled mechanical
// ventilation (CMV) units.
//
// The controller speaks a plaintext, line-oriented protocol over TCP.
// Every exchange uses its own connection:
//
//	dial host:5001 -> write "VMGI?" -> read "VMGI,215,104,456" -> close
//
// # Failure model
//
// ExecuteCommand is the only operation that returns an error. It fails
// with ErrDeviceUnreachable when the exchange times out, is refused or
// hits any other I/O fault, and tracks the device's online flag,
// logging only the transitions.
//
// Every typed accessor catches that error and degrades to an absent
// value (ok == false). A single flaky read never aborts a batch of
// concurrent reads. Control operations report false instead.
//
// # Usage
//
//	client := cmv.New(cmv.Config{Host: "192.168.1.50"}, cmv.WithLogger(logger))
//	if temp, ok := client.IndoorTemperature(ctx); ok {
//	    fmt.Printf("%.1f°C\n", temp)
//	}
//	client.SetMode(ctx, cmv.ModeBoost)
package cmv
