package main

import (
	"fmt"
	"os"

	"github.com/soyeahso/wayfarer/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "wayfarer:", err)
		os.Exit(1)
	}
}
