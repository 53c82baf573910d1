// Package static resolves request URLs against a document root and maps
// the resulting files into memory for serving.
//
// Paths are the document root concatenated with the URL. There is no
// normalization of ".." segments and symlinks are followed.
package static

import (
	"errors"
	"io/fs"
	"os"

	"github.com/searchktools/fast-httpd/core/http"
	"github.com/searchktools/fast-httpd/logger"
)

// ErrPathTooLong is returned when root+URL exceeds the configured limit
var ErrPathTooLong = errors.New("resolved path exceeds maximum length")

// worldReadable is the permission bit a file needs to be served
const worldReadable fs.FileMode = 0o004

// Resource is a resolved file ready to be sent
type Resource struct {
	Path        string
	ContentType string
	File        *MappedFile
}

// Release releases the mapping, if any
func (r *Resource) Release() error {
	if r == nil || r.File == nil {
		return nil
	}
	return r.File.Release()
}

// Resolver maps URLs to files below a document root
type Resolver struct {
	root       string
	maxPath    int
	detectType bool
}

// NewResolver creates a resolver. maxPath bounds len(root)+len(url);
// detectType picks Content-Type from the file extension instead of always
// sending text/html.
func NewResolver(root string, maxPath int, detectType bool) *Resolver {
	return &Resolver{
		root:       root,
		maxPath:    maxPath,
		detectType: detectType,
	}
}

// Root returns the document root
func (r *Resolver) Root() string {
	return r.root
}

// RealPath concatenates the document root and url
func (r *Resolver) RealPath(url string) (string, error) {
	// the limit mirrors a fixed path buffer with room for a terminator
	if len(r.root)+len(url) >= r.maxPath {
		return "", ErrPathTooLong
	}
	return r.root + url, nil
}

// Resolve turns a parsed URL into an outcome. On FileRequest the returned
// Resource owns a mapping that the caller must release.
func (r *Resolver) Resolve(url string) (*Resource, http.Code) {
	path, err := r.RealPath(url)
	if err != nil {
		logger.Debug("Resolve %q: %v", url, err)
		return nil, http.InternalError
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, http.NoResource
	}
	if info.IsDir() || info.Mode().Perm()&worldReadable == 0 {
		return nil, http.ForbiddenRequest
	}

	file, err := Map(path)
	if err != nil {
		logger.Warn("Resolve %q: %v", url, err)
		return nil, http.InternalError
	}

	contentType := http.DefaultContentType
	if r.detectType {
		contentType = ContentType(path)
	}
	return &Resource{Path: path, ContentType: contentType, File: file}, http.FileRequest
}
