// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helper functions for tests that handle errors
// appropriately, reducing boilerplate and ensuring consistent error handling.
//
// Common helpers include environment variable management (MustSetenv,
// MustUnsetenv), directory operations (MustChdir, MustMkdirAll), resource
// cleanup (DeferClose), and a controllable Clock for code that timestamps
// its records.
package testutil
