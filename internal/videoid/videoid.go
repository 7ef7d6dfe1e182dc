// Package videoid normalizes the video references learners paste in.
package videoid

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var bareID = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// Extract returns the video id from a watch, short or embed URL, or a bare id.
func Extract(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("video reference is empty")
	}
	if bareID.MatchString(ref) {
		return ref, nil
	}

	parsed, err := url.Parse(ref)
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("unrecognized video reference %q", ref)
	}

	var id string
	switch strings.ToLower(parsed.Hostname()) {
	case "youtu.be", "www.youtu.be":
		id = strings.Trim(parsed.Path, "/")
	case "youtube.com", "www.youtube.com", "m.youtube.com":
		switch {
		case parsed.Path == "/watch":
			id = parsed.Query().Get("v")
		case strings.HasPrefix(parsed.Path, "/embed/"):
			id = strings.TrimPrefix(parsed.Path, "/embed/")
		case strings.HasPrefix(parsed.Path, "/shorts/"):
			id = strings.TrimPrefix(parsed.Path, "/shorts/")
		}
	}

	id = strings.Trim(id, "/")
	if id == "" {
		return "", fmt.Errorf("no video id in %q", ref)
	}
	return id, nil
}
