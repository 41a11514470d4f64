package main

import (
	"os"

	"github.com/harborstone/dealgraph/cmd/dealgraph"
)

func main() {
	if err := dealgraph.Execute(); err != nil {
		os.Exit(1)
	}
}
