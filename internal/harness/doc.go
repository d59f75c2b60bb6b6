// Package harness runs YAML ledger scenarios against a real store.
//
// A scenario appends a sequence of domain events, optionally tampers with
// the stored rows the way a storage-level attacker would, then checks the
// chains with the verifier and the exporter.
//
// # Scenario Format
//
//	name: scenario_name
//	description: "What this scenario validates"
//	start: 2024-03-01T09:00:00Z
//	step: 1s
//	events:
//	  - chain: team_42
//	    type: FUND_CREATED
//	    resource_type: fund
//	    resource_id: fund-1
//	    actor: gp1
//	    metadata: { amount: "1500.00", currency: USD }
//	    expect: { sequence: 0 }
//	tamper:
//	  - "UPDATE entries SET actor_id = 'mallory' WHERE seq = 0"
//	assertions:
//	  - type: chain_valid
//	    chain: team_42
//	  - type: defect
//	    chain: team_42
//	    kind: HASH_MISMATCH
//	    sequence: 0
//
// Tamper statements run with the insert-only triggers dropped.
//
// # Assertion Types
//
//   - chain_valid: deep verification finds no defects
//   - chain_length: the chain holds exactly length entries
//   - defect: deep verification reports kind at sequence
//   - defect_count: deep verification reports exactly count defects
//   - bundle_reverifies: a full export re-verifies offline
//   - export_refused: exporting the chain fails with an integrity error
//
// # Deterministic Runs
//
// Each run uses a fresh in-memory database, a step clock (start + n*step
// for the n-th event without occurred_at) and sequential entry ids, so the
// same scenario always produces the same hashes. RunWithGolden compares
// them against testdata/golden.
package harness
