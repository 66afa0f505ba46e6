// Package core defines the shared language of the LeapMap system.
//
// This package contains:
//   - Layer configuration (LayerConfig, Style, the sealed Source union)
//   - Store state and export shapes (LayerState, LayerPatch, Export)
//   - Map-level configuration (MapConfig, View)
//   - Validation results (ValidationResult, ValidationError)
//   - The analytical engine contract (Adapter, AdapterConfig)
//
// The Golden Rule: pkg/core imports ONLY pkg/color, geometry/encoding
// libraries and stdlib. All other packages depend on core, not the reverse.
package core
