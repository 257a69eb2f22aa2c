package backend

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/LeeDigitalWorks/zaptus/pkg/types"
)

// PublicURL returns a resolver mapping a persisted upload to baseURL joined
// with the name its persister stored it under. Uploads that were not
// persisted resolve to "".
func PublicURL(baseURL string) (func(*types.Upload) string, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid public base URL %q", baseURL)
	}
	return func(u *types.Upload) string {
		name := objectName(u.PermanentLocation)
		if name == "" {
			return ""
		}
		return base.JoinPath(strings.Split(name, "/")...).String()
	}, nil
}

// objectName is the key of an s3:// location or the file name of a library
// path.
func objectName(location string) string {
	if location == "" {
		return ""
	}
	if rest, ok := strings.CutPrefix(location, "s3://"); ok {
		_, key, found := strings.Cut(rest, "/")
		if !found {
			return ""
		}
		return key
	}
	return filepath.Base(location)
}
