// Package main provides canopenctl, a CANopen SDO client and monitor.
package main

import (
	"fmt"
	"os"
)

var version = "0.3.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
