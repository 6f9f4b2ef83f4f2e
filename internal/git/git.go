package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ErrEmptyRepository is returned when a clone succeeds but has no commits.
var ErrEmptyRepository = errors.New("repository has no commits")

// Commit holds the metadata of one commit.
type Commit struct {
	Hash     string // abbreviated, 7 characters
	HashLong string
	Date     time.Time
}

// Client defines the git operations the metadata fetcher needs.
// Every method except Clone takes the path of an existing working copy.
type Client interface {
	Clone(ctx context.Context, url, dir string) error
	FetchTags(ctx context.Context, dir string) error
	LastCommit(ctx context.Context, dir string) (Commit, error)
	Tags(ctx context.Context, dir string) ([]string, error)
	TagDate(ctx context.Context, dir, tag string) (time.Time, error)
}

// RealClient implements Client using real git commands.
type RealClient struct{}

// NewClient returns a new RealClient.
func NewClient() *RealClient {
	return &RealClient{}
}

// gitEnv forces English, non-interactive git output.
func gitEnv() []string {
	return append(os.Environ(), "LANG=C", "LC_ALL=C", "GIT_TERMINAL_PROMPT=0")
}

func gitCmd(ctx context.Context, path string, args ...string) (string, error) {
	fullArgs := args
	if path != "" {
		fullArgs = append([]string{"-C", path}, args...)
	}
	cmd := exec.CommandContext(ctx, "git", fullArgs...)
	cmd.Env = gitEnv()
	out, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Clone makes a shallow, single-branch clone of url into dir.
func (c *RealClient) Clone(ctx context.Context, url, dir string) error {
	_, err := gitCmd(ctx, "", "clone", "--quiet", "--depth", "1", "--single-branch", url, dir)
	return err
}

// FetchTags fetches tags with depth 1 so that tags outside the cloned branch tip
// resolve to a commit date.
func (c *RealClient) FetchTags(ctx context.Context, dir string) error {
	_, err := gitCmd(ctx, dir, "fetch", "--quiet", "--depth", "1", "--tags", "origin")
	return err
}

func (c *RealClient) LastCommit(ctx context.Context, dir string) (Commit, error) {
	out, err := gitCmd(ctx, dir, "log", "-1", "--format=%H %cI")
	if err != nil {
		if strings.Contains(err.Error(), "does not have any commits") {
			return Commit{}, ErrEmptyRepository
		}
		return Commit{}, err
	}
	return ParseCommitLine(out)
}

// Tags returns tag names, newest first.
func (c *RealClient) Tags(ctx context.Context, dir string) ([]string, error) {
	out, err := gitCmd(ctx, dir, "tag", "-l", "--sort=-creatordate")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	var tags []string
	for _, line := range strings.Split(out, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			tags = append(tags, t)
		}
	}
	return tags, nil
}

// TagDate returns the commit date of the commit a tag points at.
func (c *RealClient) TagDate(ctx context.Context, dir, tag string) (time.Time, error) {
	out, err := gitCmd(ctx, dir, "log", "-1", "--format=%cI", tag, "--")
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, out)
}

// ParseCommitLine parses "<long hash> <RFC3339 date>" as printed by
// `git log -1 --format='%H %cI'`.
func ParseCommitLine(line string) (Commit, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return Commit{}, fmt.Errorf("unexpected commit line: %q", line)
	}
	date, err := time.Parse(time.RFC3339, fields[1])
	if err != nil {
		return Commit{}, fmt.Errorf("parse commit date: %w", err)
	}
	hash := fields[0]
	short := hash
	if len(short) > 7 {
		short = short[:7]
	}
	return Commit{Hash: short, HashLong: hash, Date: date}, nil
}
