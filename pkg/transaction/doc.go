/*
Package transaction provides the working view of one resource.

A Transaction caches the revisions it reads and records every mutation
locally until Commit ships them to the store as a single change set.
Objects are handles scoped to the transaction that produced it; there is
one handle per object id, so handles can be compared with ==.

Reads that miss the cache are batched: the requested objects are fetched
together with other objects the transaction already knows about (children
and reference targets of loaded revisions), up to the revision prefetch
depth per request. Multi-valued features are resolved in windows of the
configured collection sizes.

Every method locks the transaction, so calls are serialized in the order
they are made.
*/
package transaction
