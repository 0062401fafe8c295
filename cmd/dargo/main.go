// Command dargo is a thin front door over the engine in the root dargo
// package. The CLI proper (full flag surface, listing formatters, locale
// glue, progress widgets) is out of scope per spec §1 — this wires just
// enough cobra/viper plumbing to invoke the core operations from a shell,
// matching the shape of the teacher's own cmd/ front doors (cobra root
// command + subcommands, see rclone's cmd/root.go for the pattern this
// follows).
package main

import (
	"github.com/dargo-project/dargo/cmd/dargo/cmd"
)

func main() {
	cmd.Execute()
}
