//go:build !wasip1

package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Fprintln(os.Stderr, "tidal-guest is a wasm reactor; build it with:")
	fmt.Fprintln(os.Stderr, "  GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o guest.wasm ./cmd/tidal-guest")
	os.Exit(2)
}
