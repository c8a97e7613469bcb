// Command opreg discovers operators under the configured homes and prints
// what the registry holds.
//
// Usage:
//
//	opreg list [--all] [--kind compiled] [--category Convert]
//	opreg show [--by-file]
//	opreg datasets
//	opreg categories
//	opreg find <command> [--args n]
//	opreg roots
//	opreg rehash
//	opreg clear-cache
//	opreg watch [--delay 1s]
package main

import (
	"os"

	_ "github.com/ZanzyTHEbar/operator-registry/opreg/operator/generic"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
