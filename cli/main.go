package cli

import (
	"context"
	"fmt"
	"os"
)

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	if err := RootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
