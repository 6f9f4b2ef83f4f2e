package git

import (
	"fmt"
	"net/url"
	"strings"
)

// Location identifies a repository on an HTTP(S) git host.
type Location struct {
	Host  string
	Owner string
	Repo  string
}

// ParseLocation extracts host/owner/repo from an HTTPS or SSH remote URL.
func ParseLocation(remoteURL string) (Location, error) {
	// Handle SSH: git@github.com:owner/repo.git
	if strings.HasPrefix(remoteURL, "git@") {
		parts := strings.SplitN(strings.TrimPrefix(remoteURL, "git@"), ":", 2)
		if len(parts) != 2 {
			return Location{}, fmt.Errorf("cannot parse SSH remote: %s", remoteURL)
		}
		return splitOwnerRepo(parts[0], parts[1], remoteURL)
	}

	u, err := url.Parse(remoteURL)
	if err != nil || u.Host == "" {
		return Location{}, fmt.Errorf("cannot parse owner/repo from: %s", remoteURL)
	}
	return splitOwnerRepo(strings.ToLower(u.Hostname()), u.Path, remoteURL)
}

func splitOwnerRepo(host, path, raw string) (Location, error) {
	path = strings.TrimSuffix(strings.Trim(path, "/"), ".git")
	segments := strings.Split(path, "/")
	if len(segments) < 2 || segments[0] == "" || segments[1] == "" {
		return Location{}, fmt.Errorf("cannot parse owner/repo from: %s", raw)
	}
	return Location{Host: host, Owner: segments[0], Repo: segments[1]}, nil
}

// ArchiveURL returns the zip download URL of tag on the three major git hosts.
// ok is false for any other host.
func ArchiveURL(repoURL, tag string) (string, bool) {
	if tag == "" {
		return "", false
	}
	loc, err := ParseLocation(repoURL)
	if err != nil {
		return "", false
	}
	switch strings.TrimPrefix(loc.Host, "www.") {
	case "github.com":
		return fmt.Sprintf("https://github.com/%s/%s/archive/refs/tags/%s.zip", loc.Owner, loc.Repo, tag), true
	case "gitlab.com":
		return fmt.Sprintf("https://gitlab.com/%s/%s/-/archive/%s/%s-%s.zip", loc.Owner, loc.Repo, tag, loc.Repo, tag), true
	case "bitbucket.org", "bitbucket.com":
		return fmt.Sprintf("https://bitbucket.org/%s/%s/get/%s.zip", loc.Owner, loc.Repo, tag), true
	}
	return "", false
}

// CommitURL returns the web URL of a commit for repoURL.
func CommitURL(repoURL, hash string) string {
	if hash == "" {
		return ""
	}
	base := strings.TrimSuffix(strings.TrimSuffix(repoURL, "/"), ".git")
	if loc, err := ParseLocation(repoURL); err == nil {
		switch strings.TrimPrefix(loc.Host, "www.") {
		case "gitlab.com":
			return base + "/-/commit/" + hash
		case "bitbucket.org", "bitbucket.com":
			return base + "/commits/" + hash
		}
	}
	return base + "/commit/" + hash
}
