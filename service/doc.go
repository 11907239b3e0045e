// Package service is the single write entry point into the engine.
//
// Engine coordinates the order books, the matcher, the account ledger and
// the arena with an external Journal. Every operation runs to completion
// under one mutex and either commits as a whole or is rolled back, leaving
// books, accounts and the arena exactly as they were.
package service
