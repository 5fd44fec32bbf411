package respond

import (
	"bytes"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
)

// DirEntry is the minimal shape ListDir needs to produce for RenderAutoindex.
type DirEntry struct {
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// ListDirOS lists a real directory on disk, omitting "." and ".." per
// spec section 4.4 (they are never returned by os.ReadDir anyway, but the
// filter is kept explicit to match the spec's wording).
func ListDirOS(dir string) ([]DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		if e.Name() == "." || e.Name() == ".." {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, DirEntry{
			Name:    e.Name(),
			IsDir:   e.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return out, nil
}

// RenderAutoindex generates the HTML directory listing described in spec
// section 4.4: directory entries suffixed with "/", "." and ".." omitted.
// File sizes and modification times are rendered with go-humanize, the
// teacher dependency this listing borrows from its own
// caddyhttp/browse templates.
func RenderAutoindex(uri string, entries []DirEntry) []byte {
	var buf bytes.Buffer
	title := html.EscapeString(uri)
	fmt.Fprintf(&buf, "<html>\n<head><title>Index of %s</title></head>\n<body>\n<h1>Index of %s</h1>\n<table>\n", title, title)
	fmt.Fprintf(&buf, "<tr><th>Name</th><th>Size</th><th>Modified</th></tr>\n")

	for _, e := range entries {
		name := e.Name
		display := name
		if e.IsDir {
			display = name + "/"
		}
		size := "-"
		if !e.IsDir {
			size = humanize.Bytes(uint64(e.Size))
		}
		modified := humanize.Time(e.ModTime)
		fmt.Fprintf(&buf, "<tr><td><a href=\"%s\">%s</a></td><td>%s</td><td>%s</td></tr>\n",
			html.EscapeString(filepath.ToSlash(name)+dirSuffix(e.IsDir)), html.EscapeString(display), size, modified)
	}

	buf.WriteString("</table>\n</body>\n</html>\n")
	return buf.Bytes()
}

func dirSuffix(isDir bool) string {
	if isDir {
		return "/"
	}
	return ""
}
