// Package shutdown stops podiumd's components in a fixed order.
//
// The device loop stops first so an active device can hand the session to
// its peer while the bus is still connected. Client sockets go next, then
// the bus and other transports, and finally storage and trace export:
//
//	PhaseDevice ──▶ PhaseServer ──▶ PhaseTransport ──▶ PhaseStorage
//
// Usage:
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())
//	coord.RegisterFunc("node", shutdown.PhaseDevice, stopNode)
//	coord.Register("bus", shutdown.PhaseTransport, shutdown.CloserFunc(b.Close))
//	coord.Register("journal", shutdown.PhaseStorage, shutdown.CloserFunc(j.Close))
//
//	err := coord.WaitForSignal(ctx)
package shutdown
