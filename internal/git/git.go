// Package git provides the git operations behind the dependency
// installer's git source: resolving a ref to a pinned commit and
// materializing a repository at that commit.
package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
)

// commitSHAPattern matches a full 40-hex-character commit id.
var commitSHAPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// IsCommitSHA reports whether ref is already a full commit id, in which
// case no remote resolution is needed.
func IsCommitSHA(ref string) bool {
	return commitSHAPattern.MatchString(strings.ToLower(ref))
}

// ValidateRef validates that a ref follows git's naming rules before it is
// passed to a subprocess.
func ValidateRef(ref string) error {
	if ref == "" {
		return errors.New("ref cannot be empty")
	}
	if strings.TrimSpace(ref) != ref {
		return errors.New("ref cannot have leading or trailing spaces")
	}
	if strings.Contains(ref, "..") {
		return errors.New("ref cannot contain '..'")
	}
	if strings.HasPrefix(ref, ".") || strings.HasPrefix(ref, "-") {
		return errors.New("ref cannot start with '.' or '-'")
	}
	if strings.HasSuffix(ref, ".lock") {
		return errors.New("ref cannot end with '.lock'")
	}
	for _, char := range []string{" ", "\t", "~", "^", ":", "?", "*", "[", "\\"} {
		if strings.Contains(ref, char) {
			return fmt.Errorf("ref cannot contain '%s'", char)
		}
	}
	if strings.Contains(ref, "@{") || ref == "@" {
		return errors.New("ref cannot contain '@{' or be '@'")
	}
	return nil
}

// ResolveRef resolves ref (branch, tag, or commit) against the remote at
// url and returns the pinned commit SHA. A ref that is already a full
// commit id is returned as-is without touching the network.
func ResolveRef(ctx context.Context, url, ref string) (string, error) {
	if IsCommitSHA(ref) {
		return strings.ToLower(ref), nil
	}
	if err := ValidateRef(ref); err != nil {
		return "", err
	}

	// Try the ref as both a branch and a tag; ls-remote returns
	// "<sha>\t<refname>" lines for each match.
	out, err := exec.CommandContext(ctx, "git", "ls-remote", url, ref, ref+"^{}").Output()
	if err != nil {
		return "", fmt.Errorf("git ls-remote %s %s: %w", url, ref, err)
	}

	// A peeled tag line (ref^{}) points at the commit the tag wraps;
	// prefer it over the tag object itself.
	var sha string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		if strings.HasSuffix(fields[1], "^{}") {
			return fields[0], nil
		}
		sha = fields[0]
	}
	if sha == "" {
		return "", fmt.Errorf("ref %q not found in %s", ref, url)
	}
	return sha, nil
}

// CloneAtCommit materializes the repository at url, checked out at commit,
// into destDir. It fetches only that commit (depth 1) and falls back to
// fetching full history when that fetch fails, as it does against a
// remote that refuses fetches by commit id.
func CloneAtCommit(ctx context.Context, url, commit, destDir string) error {
	if !IsCommitSHA(commit) {
		return fmt.Errorf("CloneAtCommit needs a full commit id, got %q", commit)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", destDir, err)
	}

	run := func(args ...string) error {
		out, err := exec.CommandContext(ctx, "git", append([]string{"-C", destDir}, args...)...).CombinedOutput()
		if err != nil {
			return fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
		}
		return nil
	}

	if err := run("init", "--quiet"); err != nil {
		return err
	}
	if err := run("remote", "add", "origin", url); err != nil {
		return err
	}
	// Fetch just the pinned commit when the server allows it; fall back to
	// a full fetch for servers without allowReachableSHA1InWant.
	if err := run("fetch", "--quiet", "--depth", "1", "origin", commit); err != nil {
		if err := run("fetch", "--quiet", "origin"); err != nil {
			return err
		}
	}
	if err := run("checkout", "--quiet", commit); err != nil {
		return err
	}
	// The .git directory is not part of the materialized tree.
	return os.RemoveAll(destDir + "/.git")
}

// HeadCommit returns the HEAD commit of the repository at dir.
func HeadCommit(ctx context.Context, dir string) (string, error) {
	out, err := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "HEAD").Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse HEAD in %s: %w", dir, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// IsGitRepo checks if the given directory is inside a git repository.
func IsGitRepo(dir string) bool {
	err := exec.Command("git", "-C", dir, "rev-parse", "--git-dir").Run()
	return err == nil
}
