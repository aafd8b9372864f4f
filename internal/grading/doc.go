// Package grading turns judged submissions into scores, best attempts, assignment
// grades and class recaps.
//
// Every function in this package is pure: the same input always yields the same
// output, nothing is read from the store and nothing is mutated. Callers load the
// data, hand it over as plain specs/records and may run aggregations for different
// participants or sections concurrently.
package grading
