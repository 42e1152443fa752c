// Package model defines shared data types used across the market sync engine.
//
// Conventions:
//   - Prices: float64 in the instrument's quote currency
//   - Optional numeric fields: *float64, nil when upstream never supplied them
//   - Timestamps: time.Time in UTC
package model
