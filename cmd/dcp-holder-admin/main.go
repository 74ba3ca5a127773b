// Package main provides the dcp-holder-admin CLI tool for operating the holder service.
package main

import (
	"os"

	"github.com/sirosfoundation/go-dcp-holder/cmd/dcp-holder-admin/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
