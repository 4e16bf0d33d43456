/*
Package remodel is a client for remote, versioned object stores.

A Model opens a session to a repository, starts one transaction on a named
resource and exposes the operations a model-management tool needs: type
lookup, exact-type and kind queries, full traversals, safe subtree deletion
and commit-or-discard on disposal.

# Concept

The store holds packages (metamodels), resources and object revisions. The
client caches revisions per transaction and fetches them in batches, so a
traversal over N objects costs far fewer than N round trips. Queries run
against the whole repository and are filtered to the loaded resource.

Stores are reached through ports.Backend. The connector package dials them
by URL scheme: mem:// (in-process), redis://, sqlite:// and http(s)://.

# Usage

	package main

	import (
		"context"
		"log"

		"github.com/aretw0/remodel"
	)

	func main() {
		ctx := context.Background()

		m := remodel.New()
		err := m.Load(ctx, remodel.Config{
			URL:             "redis://localhost:6379/0",
			Repository:      "repo",
			Path:            "/tree",
			CreateMissing:   true,
			StoreOnDisposal: true,
		})
		if err != nil {
			log.Fatal(err)
		}
		defer func() {
			if err := m.Dispose(ctx).Err(); err != nil {
				log.Printf("dispose: %v", err)
			}
		}()

		if _, err := m.CreateInstance(ctx, "Tree"); err != nil {
			log.Fatal(err)
		}
		trees, err := m.AllOfKind(ctx, "Tree")
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("%d trees", len(trees))
	}

# Lifecycle

Dispose commits when StoreOnDisposal is set and always closes the
transaction and the session. Commit failures during Dispose are logged and
returned in the report rather than as an error, so disposal completes even
when the store rejects the changes.
*/
package remodel
