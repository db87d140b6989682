// Package aggregates declares the asset aggregate and the error taxonomy
// every layer above storage speaks.
//
// Nothing here knows about gorm, HTTP or the ledger wire format.
package aggregates
