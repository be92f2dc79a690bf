// Package publisher pushes generated subscription files to a git remote. It
// shells out to the git binary, mirroring the original tool's own approach:
// no porcelain library in the corpus models this any better than the
// straightforward subprocess wrapper the source itself uses.
package publisher

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Options configures the target repository and commit identity.
type Options struct {
	RepoURL  string
	Token    string
	UserName string
	UserMail string
	RepoDir  string
	Branch   string
}

// Publisher pushes files into a checked-out git working tree.
type Publisher struct {
	opts Options
	log  *logrus.Logger
}

// New returns a Publisher. The token, if any, is embedded into the clone
// URL's userinfo so pushes authenticate without a separate credential
// helper.
func New(opts Options, log *logrus.Logger) *Publisher {
	if opts.Token != "" && !strings.Contains(opts.RepoURL, "@") {
		opts.RepoURL = strings.Replace(opts.RepoURL, "https://", fmt.Sprintf("https://%s@", opts.Token), 1)
	}
	if opts.Branch == "" {
		opts.Branch = "main"
	}
	return &Publisher{opts: opts, log: log}
}

// UpdateFileAndPush writes content to filename inside the repo working tree
// and pushes it, committing only if the tree is actually dirty. Every
// failure is logged and swallowed: publishing is a best-effort side effect
// of a successful cache refresh, never a reason to fail the refresh itself.
func (p *Publisher) UpdateFileAndPush(filename, content string) {
	if err := p.setupRepo(); err != nil {
		p.log.WithError(err).Error("git publisher: repo setup failed")
		return
	}

	path := filepath.Join(p.opts.RepoDir, filename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		p.log.WithError(err).Error("git publisher: write file failed")
		return
	}

	status, err := p.run(p.opts.RepoDir, "status", "--porcelain")
	if err != nil {
		p.log.WithError(err).Error("git publisher: status failed")
		return
	}
	if strings.TrimSpace(status) == "" {
		p.log.WithField("filename", filename).Debug("git publisher: no changes to push")
		return
	}

	if _, err := p.run(p.opts.RepoDir, "add", filename); err != nil {
		p.log.WithError(err).Error("git publisher: add failed")
		return
	}
	if _, err := p.run(p.opts.RepoDir, "commit", "-m", "Auto-update "+filename); err != nil {
		if !strings.Contains(err.Error(), "nothing to commit") {
			p.log.WithError(err).Error("git publisher: commit failed")
			return
		}
	}
	if _, err := p.run(p.opts.RepoDir, "push", "origin", p.opts.Branch); err != nil {
		p.log.WithError(err).Error("git publisher: push failed")
		return
	}
	p.log.WithField("filename", filename).Info("git publisher: push successful")
}

// setupRepo clones the repo if absent, otherwise pulls with the
// pull-rebase → fetch+hard-reset recovery ladder: a rebase conflict from a
// concurrent push falls back to discarding local unpushed state rather than
// leaving the working tree stuck mid-rebase.
func (p *Publisher) setupRepo() error {
	if _, err := os.Stat(filepath.Join(p.opts.RepoDir, ".git")); err == nil {
		if _, err := p.run(p.opts.RepoDir, "pull", "--rebase", "origin", p.opts.Branch); err == nil {
			return nil
		}
		p.log.Warn("git publisher: pull --rebase failed, falling back to fetch + hard reset")
		if _, err := p.run(p.opts.RepoDir, "fetch", "origin", p.opts.Branch); err != nil {
			return fmt.Errorf("fetch after failed rebase: %w", err)
		}
		if _, err := p.run(p.opts.RepoDir, "reset", "--hard", "origin/"+p.opts.Branch); err != nil {
			return fmt.Errorf("hard reset after failed rebase: %w", err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(p.opts.RepoDir), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	if _, err := p.run("", "clone", "-b", p.opts.Branch, "--single-branch", p.opts.RepoURL, p.opts.RepoDir); err != nil {
		return fmt.Errorf("clone: %w", err)
	}
	if _, err := p.run(p.opts.RepoDir, "config", "user.name", p.opts.UserName); err != nil {
		return fmt.Errorf("config user.name: %w", err)
	}
	if _, err := p.run(p.opts.RepoDir, "config", "user.email", p.opts.UserMail); err != nil {
		return fmt.Errorf("config user.email: %w", err)
	}
	return nil
}

func (p *Publisher) run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// SiteFilename derives the per-site cache filename from a target URL's
// hostname, replacing dots with underscores so it is a safe bare filename.
func SiteFilename(hostname string) string {
	if hostname == "" {
		return "unknown_site.txt"
	}
	return strings.ReplaceAll(hostname, ".", "_") + ".txt"
}
