package vault

import "errors"

// ErrManifestNotFound is returned by GetManifest when nothing is stored for a session.
var ErrManifestNotFound = errors.New("manifest not found")
