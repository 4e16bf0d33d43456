/*
Package domain contains the core data model shared by the remodel client and
the store backends.

It is kept free of I/O: the types here describe what travels between a client
transaction and a remote model store, following Hexagonal Architecture
principles.

# Key Entities

  - Package, Class, Feature: the metamodel (what types exist and their features).
  - PackageDescriptor, PackageRegistry: eager or lazily resolved packages, as a snapshot.
  - Revision: one versioned object as stored remotely.
  - Resource: an addressable root container of an object graph.
  - CrossReference: a non-containment reference found by a store query.
  - ChangeSet: everything a transaction sends on commit.
*/
package domain
