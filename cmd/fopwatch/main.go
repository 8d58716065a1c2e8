package main

import (
	"fmt"
	"os"

	"github.com/turtacn/Fopwatch/internal/cli"
	"github.com/turtacn/Fopwatch/pkg/logger"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			if logger.Log != nil {
				logger.Log.Error("Panic recovered", "panic", r)
			} else {
				fmt.Fprintf(os.Stderr, "fopwatch: panic: %v\n", r)
			}
			_ = logger.Close()
			os.Exit(2)
		}
	}()

	cli.Execute()
}

// Personal.AI order the ending
