//go:build !dev

package main

import (
	"embed"
	"io/fs"
)

//go:embed frontend
var embeddedFrontend embed.FS

func getFrontendFS() (fs.FS, error) {
	return fs.Sub(embeddedFrontend, "frontend")
}
