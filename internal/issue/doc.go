// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable errors and a catalog of Markdown issue
// pages for the workerhost CLI.
//
// An ActionableError says which operation failed, on what resource, and how
// to fix it. When it names a catalog issue, verbose output also renders the
// issue page with glamour.
package issue
