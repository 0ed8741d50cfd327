package automation

import "errors"

// Domain errors for the automation package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, automation.ErrProgramNotFound) {
//	    // handle not found case
//	}
//
// A program that fails to compile or run is not an error at this level;
// the failure is reported in the CompileReport or ProgramRun.
var (
	// ErrProgramNotFound is returned when a program ID does not exist.
	ErrProgramNotFound = errors.New("program: not found")

	// ErrProgramExists is returned when creating a program whose ID or name is taken.
	ErrProgramExists = errors.New("program: already exists")

	// ErrProgramDisabled is returned when invoking a disabled program.
	ErrProgramDisabled = errors.New("program: disabled")

	// ErrInvalidProgram is returned when program validation fails.
	ErrInvalidProgram = errors.New("program: invalid")

	// ErrInvalidName is returned when a program name is empty or too long.
	ErrInvalidName = errors.New("program: invalid name")

	// ErrProgramBusy is returned when an earlier invocation of the program
	// timed out but its code has not returned yet.
	ErrProgramBusy = errors.New("program: busy")

	// ErrEngineStopped is returned when the engine is asked to start programs after Stop.
	ErrEngineStopped = errors.New("program: engine stopped")
)
