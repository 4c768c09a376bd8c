package crawler

import (
	"path/filepath"
	"strings"
)

// segmentNames are skipped wherever they appear in a path.
var segmentNames = []string{
	"$recycle.bin",
	"recycler",
	"system volume information",
	"$windows.~bt",
	"$windows.~ws",
	"$winreagent",
	"$sysreset",
	"config.msi",
	"windowsapps",
	"winsxs",
	".trash",
	".trashes",
	".spotlight-v100",
	".fseventsd",
	".documentrevisions-v100",
	".temporaryitems",
	"lost+found",
}

// driveAnchored are skipped only directly below a drive root (C:\Windows).
var driveAnchored = []string{
	"windows",
	"program files",
	"program files (x86)",
	"programdata",
	"recovery",
}

// unixAnchored are skipped only directly below "/".
var unixAnchored = []string{
	"proc",
	"sys",
	"dev",
	"run",
	"system/volumes",
	"private/var/vm",
}

// Policy decides which directory subtrees are never crawled. Matching is
// case-insensitive and bounded by path separators, so "windows" matches
// C:\Windows but not C:\Users\me\windows-notes.
type Policy struct {
	fragments []string
	drive     []string
	unix      []string
	// volumes are extras given with a drive letter ("c:/users/me/index/").
	// They match only as a prefix of a path on the same drive.
	volumes []string
}

// DefaultPolicy returns the built-in deny list.
func DefaultPolicy() *Policy {
	return NewPolicy(nil)
}

// NewPolicy returns the built-in deny list extended with extra fragments.
// An extra fragment may span several segments ("appdata/local/temp") and
// matches anywhere in a path. An extra that starts with a drive letter
// matches only that subtree of that drive.
func NewPolicy(extra []string) *Policy {
	p := &Policy{
		fragments: make([]string, 0, len(segmentNames)+len(extra)),
	}
	for _, s := range segmentNames {
		p.fragments = append(p.fragments, "/"+s+"/")
	}
	for _, s := range extra {
		s = strings.TrimSpace(normalize(s))
		if rest, ok := stripVolume(s); ok {
			if rest = strings.Trim(rest, "/"); rest != "" {
				p.volumes = append(p.volumes, s[:2]+"/"+rest+"/")
			}
			continue
		}
		if s = strings.Trim(s, "/"); s != "" {
			p.fragments = append(p.fragments, "/"+s+"/")
		}
	}
	for _, s := range driveAnchored {
		p.drive = append(p.drive, "/"+s+"/")
	}
	for _, s := range unixAnchored {
		p.unix = append(p.unix, "/"+s+"/")
	}
	return p
}

// IsRestricted reports whether path lies in a restricted subtree.
func (p *Policy) IsRestricted(path string) bool {
	if path == "" {
		return false
	}
	norm := normalize(path)
	anchored := p.unix
	if stripped, ok := stripVolume(norm); ok {
		full := strings.TrimSuffix(norm, "/") + "/"
		for _, v := range p.volumes {
			if strings.HasPrefix(full, v) {
				return true
			}
		}
		norm, anchored = stripped, p.drive
	}
	if !strings.HasPrefix(norm, "/") {
		norm = "/" + norm
	}
	if !strings.HasSuffix(norm, "/") {
		norm += "/"
	}

	for _, a := range anchored {
		if strings.HasPrefix(norm, a) {
			return true
		}
	}
	for _, f := range p.fragments {
		if strings.Contains(norm, f) {
			return true
		}
	}
	return false
}

// normalize lowercases path and uses forward slashes regardless of OS.
func normalize(path string) string {
	path = strings.ReplaceAll(filepath.ToSlash(path), `\`, "/")
	return strings.ToLower(path)
}

// stripVolume removes a leading drive letter such as "c:".
func stripVolume(path string) (string, bool) {
	if len(path) >= 2 && path[1] == ':' && path[0] >= 'a' && path[0] <= 'z' {
		return path[2:], true
	}
	return path, false
}
