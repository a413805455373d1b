// Package process provides handles for local child processes.
//
// Processes started by the launcher run in their own process group on unix,
// so Terminate and Kill reach every member of the group, including helpers
// forked by a Python entry point. On Windows only the direct child is
// signalled; Terminate is best effort and any grandchildren must be cleaned up
// separately by the caller.
//
// Attach wraps a PID that was not started by this package. Such handles
// signal only the single process and detect exit by polling.
package process
