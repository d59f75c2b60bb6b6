// Package verify replays a chain from storage and reports every break in
// its hash linkage.
//
// Verification never repairs anything. A defect is reported with its kind
// and sequence; the caller decides what to do with it.
package verify
