//go:build !windows

package crawler

func defaultRootPaths() []string {
	return []string{"/"}
}
