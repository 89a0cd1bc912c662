//go:build windows

package backup

import "os/exec"

// killProcessGroup keeps the default cancellation on Windows; WaitDelay still
// bounds how long Wait blocks on inherited pipes.
func killProcessGroup(cmd *exec.Cmd) {}
