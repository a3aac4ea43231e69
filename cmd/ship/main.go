package main

import (
	"fmt"
	"os"

	"github.com/Polqt/shipproxy/internal/shipcmd"
)

func main() {
	if err := shipcmd.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
