package main

import (
	"fmt"
	"os"

	"github.com/example/go-graphbridge/internal/ort"
)

func main() {
	err := NewRootCmd().Execute()

	shutdownErr := ort.Shutdown()
	if shutdownErr != nil && err == nil {
		err = shutdownErr
	}

	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)

		os.Exit(1)
	}
}
