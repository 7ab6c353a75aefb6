//go:build amd64
// +build amd64

// Package arch holds the architecture-specific constants the tracer
// needs: the trap opcode used for software breakpoints.
package arch

// TrapInstruction contains the int3 trap instruction for x86-64 platform
var TrapInstruction = []byte{0xcc} // int3
