// Package preflight provides readiness checks for the filesystem paths and
// external binaries ipoddock depends on.
//
// These checks run in two contexts:
//   - The daemon calls CheckSystemDeps at startup and reports the results on
//     /api/status.
//   - The CLI "ipoddock preflight" command runs RunAll and prints each result.
//
// Checks for optional features are skipped when the feature is disabled.
package preflight
