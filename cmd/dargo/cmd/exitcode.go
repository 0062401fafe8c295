package cmd

import "github.com/dargo-project/dargo/internal/direrr"

// exitCodeOf maps a returned error to the process exit code a shell caller
// should see (spec §6); delegates to internal/direrr so this front door and
// the root dargo package classify errors identically.
func exitCodeOf(err error) int { return direrr.ExitCode(err) }
