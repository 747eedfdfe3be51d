package deps

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lucli-dev/lucli/internal/git"
	"github.com/lucli-dev/lucli/internal/lucerr"
)

// defaultRegistryURL is the package registry consulted when a dependency
// does not name its own.
const defaultRegistryURL = "https://forgebox.io/api/v1"

// extensionProviderURL serves platform extensions by UUID.
const extensionProviderURL = "https://extension.lucee.org/rest/extension/provider/full"

// extensionRegistry maps friendly extension names to provider UUIDs. The
// bundled set covers the extensions projects commonly declare; anything
// else must be declared by UUID directly.
var extensionRegistry = map[string]string{
	"mysql":      "7E673D15-D87C-41A6-8B5F1956528C605F",
	"postgresql": "671B01B8-B3B3-42B9-AC055A356BED5281",
	"mssql":      "E4BDE930-BCE3-4B5F-B0ED43AF9462ACE3",
	"h2":         "465E1E35-2425-4F4E-8B3FAB638BD7280A",
	"redis":      "60772C12-F179-D555-8E2CD2B4F7428718",
	"memcached":  "16FF9B13-C595-4FA7-B87DED467B7E61A0",
	"s3":         "17AB52DE-B300-A94B-E058BD978511E39E",
	"ehcache":    "CF80D767-31C3-4A58-B4F8F91F0C30F6DE",
}

// resolve pins a spec to its locked identifier without materializing
// anything.
func resolve(ctx context.Context, spec *Spec, projectDir string) (string, error) {
	switch spec.Source {
	case SourceGit:
		sha, err := git.ResolveRef(ctx, spec.URL, spec.Ref)
		if err != nil {
			return "", lucerr.Wrap(lucerr.KindDependencyFetchFailed, err,
				fmt.Sprintf("resolve %s@%s", spec.URL, spec.Ref))
		}
		return sha, nil
	case SourceFile:
		p := spec.Path
		if !filepath.IsAbs(p) {
			p = filepath.Join(projectDir, p)
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", lucerr.Wrap(lucerr.KindDependencyFetchFailed, err, "resolve file path")
		}
		if _, err := os.Stat(abs); err != nil {
			return "", lucerr.Newf(lucerr.KindDependencyFetchFailed,
				"dependency %s: path %s does not exist", spec.Name, abs)
		}
		return abs, nil
	case SourceRegistry:
		if spec.Version == "" {
			return "", lucerr.Newf(lucerr.KindConfigInvalid,
				"dependency %s: package-registry source needs a version", spec.Name)
		}
		return spec.Version, nil
	case SourceExtension:
		uuid, ok := extensionRegistry[strings.ToLower(spec.Name)]
		if !ok {
			// A name that already looks like a provider id passes through.
			if strings.Count(spec.Name, "-") >= 3 {
				return spec.Name, nil
			}
			return "", lucerr.Newf(lucerr.KindDependencyFetchFailed,
				"unknown extension %q", spec.Name).
				WithRemedy("declare the extension by its provider UUID")
		}
		return uuid, nil
	default:
		return "", lucerr.Newf(lucerr.KindConfigInvalid, "unknown source %q", spec.Source)
	}
}

// materialize fetches the resolved dependency into stagingDir. It returns
// the integrity-relevant identifier when the fetch itself produces one (the
// archive SHA for registry packages), or resolved unchanged. wantArchiveSHA
// is the locked archive hash to verify against, empty on a fresh resolve.
func materialize(ctx context.Context, spec *Spec, resolved, wantArchiveSHA, stagingDir, projectDir string) (string, error) {
	switch spec.Source {
	case SourceGit:
		cloneDir := stagingDir
		if spec.SubPath != "" {
			cloneDir = stagingDir + ".clone"
			defer os.RemoveAll(cloneDir)
		}
		if err := git.CloneAtCommit(ctx, spec.URL, resolved, cloneDir); err != nil {
			return "", lucerr.Wrap(lucerr.KindDependencyFetchFailed, err,
				fmt.Sprintf("clone %s@%s", spec.URL, resolved))
		}
		if spec.SubPath != "" {
			sub := filepath.Join(cloneDir, filepath.FromSlash(spec.SubPath))
			info, err := os.Stat(sub)
			if err != nil || !info.IsDir() {
				return "", lucerr.Newf(lucerr.KindDependencyFetchFailed,
					"dependency %s: subPath %q not found in repository", spec.Name, spec.SubPath)
			}
			if err := copyTree(sub, stagingDir); err != nil {
				return "", lucerr.Wrap(lucerr.KindDependencyFetchFailed, err, "extract subPath")
			}
		}
		return resolved, nil

	case SourceFile:
		if err := copyTree(resolved, stagingDir); err != nil {
			return "", lucerr.Wrap(lucerr.KindDependencyFetchFailed, err,
				fmt.Sprintf("copy %s", resolved))
		}
		return resolved, nil

	case SourceRegistry:
		registry := spec.Registry
		if registry == "" {
			registry = defaultRegistryURL
		}
		url := fmt.Sprintf("%s/package/%s/%s/archive.zip", registry, spec.Name, spec.Version)
		return fetchArchive(ctx, spec, url, wantArchiveSHA, stagingDir)

	case SourceExtension:
		url := fmt.Sprintf("%s/%s", extensionProviderURL, resolved)
		if _, err := fetchArchive(ctx, spec, url, "", stagingDir); err != nil {
			return "", err
		}
		return resolved, nil

	default:
		return "", lucerr.Newf(lucerr.KindConfigInvalid, "unknown source %q", spec.Source)
	}
}

// fetchArchive downloads a zip archive, verifies it against wantSHA when a
// lock pins one, and unpacks it into stagingDir. Returns the archive's
// SHA-256.
func fetchArchive(ctx context.Context, spec *Spec, url, wantSHA, stagingDir string) (string, error) {
	client := &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: 10 * time.Second,
			IdleConnTimeout:       60 * time.Second,
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", lucerr.Wrap(lucerr.KindDependencyFetchFailed, err, "build request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", lucerr.Wrap(lucerr.KindDependencyFetchFailed, err,
			fmt.Sprintf("fetch %s", url))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", lucerr.Newf(lucerr.KindDependencyFetchFailed,
			"dependency %s: GET %s: %s", spec.Name, url, resp.Status)
	}

	tmp, err := os.CreateTemp("", "lucli-dep-*.zip")
	if err != nil {
		return "", lucerr.Wrap(lucerr.KindDependencyFetchFailed, err, "create temp archive")
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), resp.Body); err != nil {
		return "", lucerr.Wrap(lucerr.KindDependencyFetchFailed, err, "download archive")
	}
	gotSHA := hex.EncodeToString(h.Sum(nil))
	if wantSHA != "" && gotSHA != wantSHA {
		return "", lucerr.Newf(lucerr.KindDependencyIntegrityMismatch,
			"dependency %s: archive hash %s does not match locked %s", spec.Name, gotSHA, wantSHA).
			WithRemedy("rerun with --force to re-resolve, or restore the original archive")
	}

	if err := unzipArchive(tmp.Name(), stagingDir); err != nil {
		return "", lucerr.Wrap(lucerr.KindDependencyFetchFailed, err, "unpack archive")
	}
	return gotSHA, nil
}

// unzipArchive extracts archive into destDir, refusing zip-slip entries.
func unzipArchive(archive, destDir string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	for _, f := range r.File {
		target := filepath.Join(destDir, f.Name)
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes destination", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode().Perm())
		if err != nil {
			rc.Close()
			return err
		}
		_, copyErr := io.Copy(out, rc)
		rc.Close()
		if err := out.Close(); copyErr == nil {
			copyErr = err
		}
		if copyErr != nil {
			return copyErr
		}
	}
	return nil
}

// copyTree copies src into dst recursively, skipping any .git directory.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if info.IsDir() && info.Name() == ".git" {
			return filepath.SkipDir
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	})
}
