// Package testutil provides test helpers for mailcore tests.
//
//   - assert.go: assertion helpers (MustNoErr, AssertEqualSlices)
//   - store_helpers.go: database test setup (NewTestStore)
//   - fs_helpers.go: filesystem helpers (WriteFile, ReadFile, MustExist)
package testutil
