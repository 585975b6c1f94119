// Package identity derives deterministic names from structural type
// identities.
//
// Two derivations are provided: the metadata-style name used to resolve a
// type's mirror inside a freshly compiled module (namespace segments joined
// by '.', nested-type chain joined by '+'), and the filesystem-safe artifact
// key for an (expander, target) pair. Both are pure functions of their
// inputs; nothing in this package touches the loaded module.
package identity
