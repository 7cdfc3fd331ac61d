// Package ui carries the default pages and assets compiled into the binary.
package ui

import (
	"embed"
	"io/fs"
)

//go:embed static
var embedded embed.FS

// StaticFS is the embedded static directory, rooted so that "index.html"
// names static/index.html.
var StaticFS fs.FS = mustSub(embedded, "static")

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
