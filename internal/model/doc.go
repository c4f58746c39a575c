// Package model defines the entity types owned by the canonical local store.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import model; model imports nothing internal.
//
// Key design constraints:
//   - NO float types in entities - prices are integer minor units
//   - Calendar dates use Date (year, month, day), never time.Time
//   - All JSON tags use snake_case and double as remote field names
//   - Status transitions are forward-only (see PrescriptionStatus)
package model
