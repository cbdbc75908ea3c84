// Package term renders OSC 8 hyperlinks when the terminal is known to
// support them.
package term

import (
	"net/url"
	"os"
	"path/filepath"
)

// hyperlinkHints are variables set by terminals that understand OSC 8.
var hyperlinkHints = []string{
	"WT_SESSION",
	"VTE_VERSION",
	"KONSOLE_VERSION",
	"KITTY_WINDOW_ID",
	"WEZTERM_EXECUTABLE",
	"DOMTERM",
	"TERM_PROGRAM",
}

func SupportsHyperlinks() bool {
	switch os.Getenv("TERM") {
	case "", "dumb", "alacritty":
		return false
	}
	for _, key := range hyperlinkHints {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func ClickableLink(label string, target string) string {
	if target == "" {
		return label
	}
	if label == "" {
		label = target
	}
	if !SupportsHyperlinks() {
		return label
	}
	return "\x1b]8;;" + target + "\x1b\\" + label + "\x1b]8;;\x1b\\"
}

// FileLink links label to a local directory or file. Relative paths are
// resolved against the working directory.
func FileLink(label string, path string) string {
	if path == "" {
		return label
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return label
	}
	return ClickableLink(label, (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String())
}
