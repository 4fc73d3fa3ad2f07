package main

import (
	"fmt"
	"os"

	"github.com/Dicklesworthstone/hitl/internal/cli"
	"github.com/Dicklesworthstone/hitl/internal/output"
)

func main() {
	if err := cli.Execute(); err != nil {
		if output.IsJSON() {
			_ = output.OutputJSONError(err, 1)
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
