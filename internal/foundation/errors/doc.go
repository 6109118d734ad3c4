// Package errors provides the classified error type used across nvprime.
//
// A ClassifiedError carries a category (config, hardware, restore, ...), a
// severity and a retry hint. The RPC layer maps categories to D-Bus error
// names and the CLI maps them to exit codes.
//
// Example usage:
//
//	err := errors.HardwareError("failed to set GPU power limit").
//		WithCause(nvmlErr).
//		WithContext("power_limit_mw", 250000).
//		Build()
package errors
