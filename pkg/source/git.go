// Package source keeps a local directory synced with a git remote.
// It backs file:// repositories whose content is maintained in git,
// such as locally rebuilt package trees.
package source

import (
	"context"
	"sync"

	git "github.com/go-git/go-git/v5"
	gitPlumbing "github.com/go-git/go-git/v5/plumbing"
	"github.com/hashicorp/go-hclog"
)

// Config locates the remote and the working directory of a checkout.
type Config struct {
	URL  string `mapstructure:"url"`
	Path string `mapstructure:"path"`

	// Ref pins the checkout to a specific commit.  When empty the
	// remote head is used.
	Ref string `mapstructure:"ref"`
}

// Checkout manages one git working tree.
type Checkout struct {
	l    hclog.Logger
	conf Config

	mu   sync.Mutex
	repo *git.Repository
}

// New returns an unsynced checkout manager.
func New(l hclog.Logger, conf Config) *Checkout {
	return &Checkout{
		l:    l.Named("git"),
		conf: conf,
	}
}

// Sync brings the working tree up to date: clone or open, fetch, and
// check out the pinned ref if one is set.
func (c *Checkout) Sync(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.repo == nil {
		if err := c.open(ctx); err != nil {
			return err
		}
	}

	err := c.repo.FetchContext(ctx, &git.FetchOptions{})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return err
	}

	if c.conf.Ref == "" {
		return nil
	}

	worktree, err := c.repo.Worktree()
	if err != nil {
		return err
	}
	return worktree.Checkout(&git.CheckoutOptions{
		Hash:  gitPlumbing.NewHash(c.conf.Ref),
		Force: true,
	})
}

// At reports the commit hash of the current head.
func (c *Checkout) At() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.repo == nil {
		return "", git.ErrRepositoryNotExists
	}
	head, err := c.repo.Head()
	if err != nil {
		return "", err
	}
	return head.Hash().String(), nil
}

func (c *Checkout) open(ctx context.Context) error {
	repo, err := git.PlainOpen(c.conf.Path)
	if err == nil {
		c.repo = repo
		return nil
	}
	if err != git.ErrRepositoryNotExists {
		return err
	}

	c.l.Debug("Cloning repository", "path", c.conf.Path, "url", c.conf.URL)
	repo, err = git.PlainCloneContext(ctx, c.conf.Path, false, &git.CloneOptions{
		URL: c.conf.URL,
	})
	if err != nil {
		return err
	}
	c.repo = repo
	return nil
}
