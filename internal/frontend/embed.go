//go:build embed

package frontend

import (
	"embed"
	"io/fs"
)

//go:embed static
var staticFiles embed.FS

func init() {
	if sub, err := fs.Sub(staticFiles, "static"); err == nil {
		embedded = sub
	}
}
