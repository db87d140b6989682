// Package aggregates implements the domain aggregates on gorm.
//
// An aggregate write opens one transaction, checks the asset version with a
// compare-and-set guard and appends to the transaction log before commit.
package aggregates
