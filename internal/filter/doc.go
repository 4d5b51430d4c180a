// Package filter provides the filter-expression algebra shared by the
// access layer and the storage engine.
//
// An expression has exactly two consumers with one meaning:
//
//  1. Eval: an in-process boolean check against a Row.
//  2. SQL: a parameterized WHERE-clause fragment for SQLite.
//
// The two MUST agree for every expression and row: a row matches the
// compiled fragment if and only if Eval returns true. Access control
// depends on this equivalence - a row visible through the sync feed but
// not writable through the endpoint (or vice versa) is the most
// dangerous bug class in the system. The property is exercised directly
// in the package tests against a live SQLite database.
//
// CRITICAL: compiled fragments are always parameterized. Values are
// never interpolated into SQL text, regardless of origin.
package filter
