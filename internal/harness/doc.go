// Package harness runs YAML pharmacy scenarios against a fresh store.
//
// A scenario seeds entities (setup), drives the collaborator operations
// (flow) and checks the outcome (assertions). Every flow step is recorded
// in a trace of invocation and completion events; the trace is serialized
// as canonical JSON so it can be compared against a golden file.
//
// Scenarios run through pharmacy.Service over an in-memory SQLite store
// with a deterministic clock and id generator, so the same scenario always
// produces the same trace.
//
// Scenario format:
//
//	name: dispense_once
//	description: a bound tag dispenses once
//	today: "2025-07-25"
//	setup:
//	  - action: add_medicine
//	    args: {id: med-1, name: Metformin, stock: 3, expiry_date: "2026-01-31"}
//	  - action: add_prescription
//	    args: {id: rx-1, patient_name: Ada Obi, medication: Metformin}
//	  - action: bind_tag
//	    args: {tag_id: TAG-1, prescription_id: rx-1}
//	flow:
//	  - invoke: dispense
//	    args: {tag_id: TAG-1, pharmacist_id: emp-1}
//	    expect: {case: Success, result: {remaining_stock: 2}}
//	assertions:
//	  - type: final_state
//	    table: medicines
//	    where: {id: med-1}
//	    expect: {stock: 2}
package harness
