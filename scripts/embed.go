// Package scripts embeds the Risor library Manager scripts can import.
package scripts

import (
	"embed"
	"io/fs"
)

//go:embed lib/*.risor
var files embed.FS

// Library returns the importable modules, rooted so that "import agronomy"
// resolves lib/agronomy.risor.
func Library() fs.FS {
	sub, err := fs.Sub(files, "lib")
	if err != nil {
		panic(err)
	}
	return sub
}
