// Package stats implements the per-region hypothesis tests and the
// multiple-comparisons corrections used by analysis runs.
//
// Every function is pure: the same input slices give bit-identical results.
package stats
