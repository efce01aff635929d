// Package testutil holds fixtures shared by the assist test suites: accounts,
// a signing key, wei amounts, deterministic hashes, receipts and a jarvis
// network identity.
//
// Fakes of assist interfaces live in assist's own fakes_test.go, since this
// package cannot import assist without a cycle in assist's tests.
//
//	receipt := testutil.NewSuccessReceipt(testutil.HashFromInt(1))
//	network := testutil.NewNetwork(1337, "devnet")
package testutil
