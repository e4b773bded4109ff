// Command sdkreq issues one HTTP request through the SDK transport.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errNotOK) {
			fmt.Fprintln(os.Stderr, "sdkreq:", err)
		}
		os.Exit(1)
	}
}
