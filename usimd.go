// Package usimd is a retargetable low-level instruction encoder: one uniform
// operation vocabulary (moves, logic, arithmetic, shifts, compares, branches
// and packed SIMD) lowered per architecture to native machine bytes.
//
// The encoder package holds the portable session layer: operation
// descriptors, labels, byte streams with branch fix-ups, per-target encoding
// profiles and the host capability probe. Operands are constructed through
// the operand package, which enforces the reserved scratch-register
// convention at build time. The x86 and a64 packages are the two backends;
// cmd/usimd is a small front end over all of it.
package usimd
