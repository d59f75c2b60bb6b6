// Package export builds compliance bundles: a verified, signed slice of a
// chain that can be re-verified offline from the bundle alone.
//
// Export is read-only. A bundle is produced only after the verifier
// attests the exact range being exported; any defect aborts the export.
package export
