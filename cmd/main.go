package main

import (
	"os"

	"github.com/soundprediction/go-behaviorgraph/cmd/behaviorgraph"
)

func main() {
	if err := behaviorgraph.Execute(); err != nil {
		os.Exit(1)
	}
}
