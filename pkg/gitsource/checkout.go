// Package gitsource checks out the template repository named in the
// application config so relative template paths can be resolved against
// its working tree.
package gitsource

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"
)

// Checkout clones repoURL and returns the working-tree path. With an
// empty destDir the checkout goes under a fresh temp directory. The clone
// is shallow; template resolution only needs the tip of the default
// branch.
func Checkout(log *zap.SugaredLogger, repoURL, destDir string) (string, error) {
	if destDir == "" {
		tmpDir, err := os.MkdirTemp("", "ennio-templates-*")
		if err != nil {
			return "", fmt.Errorf("failed to create temp directory: %w", err)
		}
		destDir = tmpDir
	}

	repoName := strings.TrimSuffix(filepath.Base(repoURL), ".git")
	clonePath := filepath.Join(destDir, repoName)

	log.Infof("Checking out template repository %s to %s.", repoURL, clonePath)
	_, err := git.PlainClone(clonePath, false, &git.CloneOptions{
		URL:   repoURL,
		Depth: 1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to clone %s: %w", repoURL, err)
	}
	return clonePath, nil
}

// Cleanup removes a checkout created by Checkout.
func Cleanup(path string) error {
	return os.RemoveAll(path)
}
