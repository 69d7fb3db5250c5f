// Package planner handles the planning phase of an install.
//
// The planner turns resolved flow targets into a deterministic install plan:
// it groups targets by registry directory, decides per platform whether a
// group is tracked as a whole directory or as individual files, builds the
// ownership view of every other installed package, and arbitrates collisions
// with those packages.
//
// Key responsibilities:
//   - Group targets and decide dir- vs file-level tracking (Plan)
//   - Aggregate other packages' ledger entries into path owners (Ownership)
//   - Resolve collisions by overwrite, skip, keep-both or an interactive
//     choice, including whole-package namespacing (ConflictResolver)
//   - Derive deterministic namespace slugs from package identities
//   - Materialise the registry key → installed paths mapping for the ledger
package planner
