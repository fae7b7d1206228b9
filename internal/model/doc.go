// Package model defines shared data types used across the gold price service.
//
// Conventions:
//   - Prices: shopspring decimal values, never float64
//   - Timestamps: time.Time in UTC
//   - Instruments are identified by provider epic (e.g. "GOLD")
package model
