// Package agent carries out platform-initiated device actions on a Linux
// device.
//
// Reboot and factory reset run operator-configured commands. Firmware
// images are fetched over HTTP(S) into a local directory, checked against
// the SHA-256 verifier when one is given, and installed by a configured
// command that receives the image path as its last argument.
//
// The agent reports every outcome back through the engine:
//
//	a := agent.New(cfg.Actions, logger)
//	engine, err := dm.New(dm.Options{Handlers: a.Handlers(), ...})
//	a.Bind(engine)
//
// Firmware work runs on its own goroutines so a long download does not hold
// up other handlers. Wait blocks until that work has finished.
package agent
