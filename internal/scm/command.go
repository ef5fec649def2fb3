package scm

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// runCommand executes an SCM binary inside the flyweight directory and
// returns its stdout. Stderr is folded into the error so poll failures carry
// the tool's own message.
func runCommand(ctx context.Context, dir, name string, args ...string) (string, error) {
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf(
			"command '%s %s' failed: %w: %s",
			name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()),
		)
	}
	return stdout.String(), nil
}
