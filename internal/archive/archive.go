// Package archive bundles downloaded files into a single .tar.xz.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/ulikunitz/xz"
)

const ContentType = "application/x-xz"

type File struct {
	Name    string
	Data    []byte
	ModTime time.Time
}

// WriteTarXZ writes files as an xz-compressed tarball. Duplicate names get a numeric suffix.
func WriteTarXZ(w io.Writer, files []File) error {
	xw, err := xz.NewWriter(w)
	if err != nil {
		return fmt.Errorf("xz writer: %w", err)
	}
	tw := tar.NewWriter(xw)

	seen := make(map[string]int)
	for _, f := range files {
		name := uniqueName(cleanName(f.Name), seen)
		mod := f.ModTime
		if mod.IsZero() {
			mod = time.Unix(0, 0)
		}
		hdr := &tar.Header{
			Name:    name,
			Mode:    0o644,
			Size:    int64(len(f.Data)),
			ModTime: mod,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("tar header %s: %w", name, err)
		}
		if _, err := tw.Write(f.Data); err != nil {
			return fmt.Errorf("tar write %s: %w", name, err)
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return xw.Close()
}

// ReadTarXZ is the inverse of WriteTarXZ.
func ReadTarXZ(r io.Reader) ([]File, error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("xz reader: %w", err)
	}
	tr := tar.NewReader(xr)

	var files []File
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return files, nil
		}
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, err
		}
		files = append(files, File{Name: hdr.Name, Data: data, ModTime: hdr.ModTime})
	}
}

func cleanName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "" || name == "." || name == "/" || name == ".." {
		return "file"
	}
	return name
}

func uniqueName(name string, seen map[string]int) string {
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n, ext)
}
