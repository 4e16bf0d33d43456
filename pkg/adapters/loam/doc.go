// Package loam stores model repositories in Loam vaults.
//
// Every package, resource and revision is one document whose frontmatter
// carries its kind, key and version, and whose body holds the JSON encoded
// object. Commits go through a single Loam transaction. Removed revisions
// stay behind as tombstones so the vault never needs a delete.
package loam
