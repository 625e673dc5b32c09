// Package mdp reads, writes, and templates GROMACS simulation-parameter
// (.mdp) files.
//
// The format is a flat sequence of "key = value [value ...]" lines.
// A ';' introduces a comment (full-line or trailing) and blank lines are
// allowed. One file configures one simulation stage and is treated as
// immutable once rendered.
//
// Document preserves declaration order and full-line comments so that a
// parse/write round-trip keeps the file reviewable. Values are kept as
// strings: the orchestrator never interprets MD parameters, it only
// assembles them for the external engine.
package mdp
