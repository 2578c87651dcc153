package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"

	"github.com/stevencox/tycho/internal/logger"
)

// fetchGit resolves a repository entry's base URL by cloning it into a
// per-repository cache directory (pulling instead of re-cloning on
// subsequent calls), then reads filePath relative to the repo root.
//
// fullURL is expected in the synthesized form repoURL/subpath/filename
// (§4.5's `f"{first_repo_url}/{app_id}/docker-compose.yaml"`); the repo
// URL itself is recognized by a trailing ".git" or an scp-style remote.
func (r *Registry) fetchGit(ctx context.Context, fullURL string) (string, error) {
	repoURL, filePath, err := splitGitURL(fullURL)
	if err != nil {
		return "", err
	}

	dir := repoCacheDir(repoURL)
	if err := syncRepo(ctx, repoURL, dir); err != nil {
		return "", err
	}

	data, err := os.ReadFile(filepath.Join(dir, filePath))
	if err != nil {
		return "", fmt.Errorf("read %s from %s: %w", filePath, repoURL, err)
	}
	return string(data), nil
}

func splitGitURL(fullURL string) (repoURL, filePath string, err error) {
	if idx := strings.Index(fullURL, ".git/"); idx >= 0 {
		return fullURL[:idx+4], fullURL[idx+5:], nil
	}
	// No literal ".git/" marker: treat the last two path segments
	// (app id, file name) as the in-repo path, the remainder as the clone URL.
	segments := strings.Split(strings.TrimRight(fullURL, "/"), "/")
	if len(segments) < 3 {
		return "", "", fmt.Errorf("cannot resolve git repo from url: %s", fullURL)
	}
	cut := len(segments) - 2
	return strings.Join(segments[:cut], "/"), strings.Join(segments[cut:], "/"), nil
}

func repoCacheDir(repoURL string) string {
	sum := sha256.Sum256([]byte(repoURL))
	return filepath.Join(os.TempDir(), "tycho-registry", hex.EncodeToString(sum[:])[:16])
}

func syncRepo(ctx context.Context, repoURL, dir string) error {
	log := logger.Registry().With().Str("repo", repoURL).Logger()

	repo, err := git.PlainOpen(dir)
	if err == nil {
		w, err := repo.Worktree()
		if err != nil {
			return err
		}
		if err := w.PullContext(ctx, &git.PullOptions{}); err != nil && err != git.NoErrAlreadyUpToDate {
			log.Warn().Err(err).Msg("pull failed, using cached checkout")
		}
		return nil
	}

	log.Info().Str("dir", dir).Msg("cloning repository")
	_, err = git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:          repoURL,
		SingleBranch: true,
		Depth:        1,
	})
	return err
}
