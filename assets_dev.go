//go:build dev

package main

import "io/fs"

// getFrontendFS returns nil in dev mode, signalling the server to read the
// frontend from disk (./frontend unless --dir is set).
func getFrontendFS() (fs.FS, error) {
	return nil, nil
}
