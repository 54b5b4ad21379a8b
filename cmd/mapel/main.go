// Command mapel builds maps of elections from a manifest: it samples the
// families, computes distances and features, embeds the elections and
// writes the resulting tables.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
