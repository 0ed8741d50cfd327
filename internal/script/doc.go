// Package script compiles and runs user automation programs.
//
// A program is two blocks of Go statements written by the user: a setup
// body, run once when the program is (re)started, and a run body, invoked
// on demand with an options string. The package turns those blocks into a
// callable artifact in four stages:
//
//	setup/run text
//	      │
//	      ▼
//	ExtractDirectives   //@using <import>;  //@reference <dir>
//	      │
//	      ▼
//	Assembler           wraps the bodies in a scaffold package with the
//	      │             default imports, or passes a raw unit through
//	      ▼
//	Compiler            type-checks the unit in a private interpreter;
//	      │             never runs user code
//	      ▼
//	Host                loads the artifact once, then calls Setup or Run
//	                    and reports Ok or Failed
//
// Scripts are interpreted by github.com/traefik/yaegi. Each artifact owns
// its own interpreter, so globals declared by one program are invisible to
// every other program and to later compilations of the same program.
//
// Failures never escape as Go errors or panics. Compile reports them as
// Diagnostics on the Artifact; Setup and Run report them as a Result with
// a Failure kind.
//
// Directive syntax (one per line, no leading whitespace):
//
//	//@using encoding/xml;
//	//@reference /opt/graylogic/scripts
//
// A reference is a directory laid out like a GOPATH; imports are resolved
// against <dir>/src/<importpath>.
//
// A setup body beginning with the line //@rawcsharpscript switches to raw
// mode: the run text is the whole unit and declares its own package with
// Setup and Run functions.
package script
