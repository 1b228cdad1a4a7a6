// Package pkg provides shared utilities for the usbemu device emulation stack.
//
// This package contains common functionality used by the device core, its
// class helpers and the command-line tool:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Size-rotated log files for long-running emulations
//   - Sentinel errors for definition-time and protocol-time failures
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with component context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentInterface, "alternate selected", "interface", 0, "alternate", 1)
//
// # Errors
//
// Definition errors are returned while a device is being described and are
// fatal for that description:
//
//	if errors.Is(err, pkg.ErrDuplicateEndpointAddress) {
//	    // The device table declares one endpoint twice.
//	}
//
// Protocol errors never escape request handling; they are answered with a
// STALL handshake and recorded as [ResponseStall].
package pkg
