// Package compose turns a requested set of eggs into one deterministic
// cloud-init document and an image/boot-config pair into one boot script.
//
// # Determinism
//
// The same input set always yields byte-identical output: dependency
// resolution uses Kahn's algorithm with a lexicographic tie-break on egg
// name, and YAML rendering sorts keys where order carries no meaning.
// This keeps rendered payloads checksum-cacheable and test deployments
// reproducible.
//
// # Failure Modes
//
// Composition fails loudly rather than degrading: dependency cycles,
// unknown or inactive eggs, resource shortfalls, and cloud-init section
// collisions each surface as a typed error. Nothing is silently dropped
// or overwritten.
//
// Boot script rendering is a pure template substitution with no I/O; the
// renderer never interprets the script it produces.
package compose
