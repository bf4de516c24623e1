//go:build !linux

package storage

// Detection is only implemented on Linux; other platforms are assumed local.
func detectFilesystemType(string) (string, error) {
	return "local", nil
}
