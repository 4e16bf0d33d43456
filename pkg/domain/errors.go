package domain

import "errors"

// ErrConnection is returned when the remote store cannot be reached.
var ErrConnection = errors.New("connection error")

// ErrRepositoryNotFound is returned when the endpoint has no repository with the requested name.
var ErrRepositoryNotFound = errors.New("repository not found")

// ErrResourceNotFound is returned when the target resource is absent and may not be created.
var ErrResourceNotFound = errors.New("resource not found")

// ErrTransaction is returned when a remote transaction cannot be opened or operated.
var ErrTransaction = errors.New("transaction error")

// ErrTransactionClosed is returned when a closed transaction (or one of its objects) is used.
var ErrTransactionClosed = errors.New("transaction closed")

// ErrCommit is returned when a commit is rejected by the store.
var ErrCommit = errors.New("commit failed")

// ErrConflict is returned by a store when a committed revision is not based on the latest version.
var ErrConflict = errors.New("revision conflict")

// ErrObjectNotFound is returned when a revision does not exist in the store.
var ErrObjectNotFound = errors.New("object not found")

// ErrUnknownType is returned when a type name cannot be resolved.
var ErrUnknownType = errors.New("unknown type")

// ErrAmbiguousType is returned in strict mode when an unqualified name matches several classes.
var ErrAmbiguousType = errors.New("ambiguous type name")

// ErrAbstractType is returned when instantiating an abstract class.
var ErrAbstractType = errors.New("abstract type")

// ErrInvalidFeature is returned when a feature does not exist or does not accept the value.
var ErrInvalidFeature = errors.New("invalid feature")

// ErrDeletion is returned when any step of a subtree deletion fails.
var ErrDeletion = errors.New("deletion failed")

// ErrLoad is returned by model loading and wraps the specific cause.
var ErrLoad = errors.New("model loading failed")
