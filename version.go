package remodel

import _ "embed"

// Version is the module release, with a trailing newline.
//
//go:embed VERSION
var Version string
