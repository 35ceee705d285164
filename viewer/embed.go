package viewer

import (
	"embed"
	"io/fs"
)

//go:embed client
var embeddedFS embed.FS

// ClientFS returns the embedded viewer page rooted at `viewer/client`.
func ClientFS() fs.FS {
	sub, err := fs.Sub(embeddedFS, "client")
	if err != nil {
		return embeddedFS
	}
	return sub
}
