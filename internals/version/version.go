package version

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
)

// SemVer is set at build time for releases.
//
//	-ldflags "-X github.com/Oudwins/clawd/internals/version.SemVer=1.2.3"
var SemVer = "0.0.0-dev"

var (
	identityOnce sync.Once
	identityVal  string
)

// Version returns SemVer with the build identity as metadata, for example
// 1.2.3+a1b2c3d4e5f6.9f2c1a0b77de.
func Version() string {
	v := strings.TrimSpace(SemVer)
	if v == "" {
		v = "0.0.0-dev"
	}
	id := Identity()
	if id == "" || id == "unknown" {
		return v
	}
	id = strings.ReplaceAll(strings.ReplaceAll(id, "+", "."), "-dirty", ".dirty")
	if strings.Contains(v, "+") {
		return v + "." + id
	}
	return v + "+" + id
}

// Identity is a best-effort build identity that changes on rebuilds:
// <rev12>[-dirty]+<exeHash12>, or whichever half is available.
func Identity() string {
	identityOnce.Do(func() {
		identityVal = computeIdentity()
	})
	return identityVal
}

func computeIdentity() string {
	rev, dirty := vcsInfo()
	if rev != "" && dirty {
		rev += "-dirty"
	}
	hash := executableHash()
	switch {
	case rev != "" && hash != "":
		return rev + "+" + hash
	case hash != "":
		return hash
	case rev != "":
		return rev
	default:
		return "unknown"
	}
}

func vcsInfo() (string, bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok || info == nil {
		return "", false
	}
	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = strings.TrimSpace(s.Value)
		case "vcs.modified":
			dirty = strings.EqualFold(strings.TrimSpace(s.Value), "true")
		}
	}
	return shorten(revision), dirty
}

func executableHash() string {
	exe, err := os.Executable()
	if err != nil || exe == "" {
		return ""
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil && resolved != "" {
		exe = resolved
	}
	f, err := os.Open(exe)
	if err != nil {
		return ""
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return ""
	}
	return shorten(hex.EncodeToString(h.Sum(nil)))
}

func shorten(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
