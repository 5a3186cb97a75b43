package main

import (
	"embed"
	"io/fs"
)

// bundledResources holds the per-network cardano-node configuration files
// materialized into the data directory on first start.
//
//go:embed resources/cardano
var bundledResources embed.FS

// nodeResources returns the resource tree rooted at the network directories.
func nodeResources() fs.FS {
	sub, err := fs.Sub(bundledResources, "resources/cardano")
	if err != nil {
		// The embed path is fixed at compile time; this cannot fail in a
		// built binary.
		panic(err)
	}
	return sub
}
