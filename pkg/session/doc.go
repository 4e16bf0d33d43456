/*
Package session owns the connection to one repository of a remote model store.

A Session is opened with Connect and holds exactly one backend handle. It
captures the package registry once, at connect time: packages preloaded by
the client come first, followed by the packages the store already knows,
which are only fetched when a lookup needs them. Changes to the store's
registry made after Connect are not observed by the session.
*/
package session
