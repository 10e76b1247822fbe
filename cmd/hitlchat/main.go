// Command hitlchat watches a conversation on the orchestration backend,
// surfaces the interrupts its runs pause on, and resumes them with a human
// decision.
package main

import (
	"context"
	"os"
)

func main() {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
