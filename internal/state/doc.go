// Package state manages the workspace ownership ledger.
//
// The ledger (the index) is the sole authority for what each installed
// package owns. It is persisted as YAML in .agentpm/agentpm.index.yml and is
// read by install, save, uninstall and list.
//
// Key concepts:
//   - Index: one PackageEntry per installed package
//   - PackageEntry: source location, version, content hash, namespace and the
//     mapping from registry keys to installed workspace paths
//   - Directory keys (trailing "/") claim whole workspace directories; file
//     keys claim exact paths
//   - IndexStore: loads and saves the index; Update runs a read-modify-write
//     as one critical section
package state
