package script

import "errors"

// Domain-specific errors for the script runtime.
//
// These never cross Compile, Setup or Run; they appear as Failure messages
// and as wrapped causes for callers that need errors.Is.
var (
	// ErrNotCompiled is returned when an artifact without a compiled program is invoked.
	ErrNotCompiled = errors.New("script: artifact did not compile")

	// ErrEntryPoint is returned when Setup or Run is missing or has an unsupported signature.
	ErrEntryPoint = errors.New("script: entry point not found")

	// ErrLoad is returned when executing the program's package initialisation fails.
	ErrLoad = errors.New("script: loading artifact failed")

	// ErrReference is returned for a reference directory that cannot be used.
	ErrReference = errors.New("script: invalid reference")
)
