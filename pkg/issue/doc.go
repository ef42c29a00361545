// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable error handling with user-friendly
// messages.
//
// An ActionableError carries the failed operation, the resource involved,
// and remediation suggestions. Front-ends surfacing a servicing failure
// detect it with errors.As and render it with Format, telling the user what
// to do about the failure rather than only what went wrong.
package issue
