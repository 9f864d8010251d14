package gitsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/mosaiq-software/server-manager-sub000/internal/domain"
)

// DotEnvFileName is the dotenv file read from the repository root.
const DotEnvFileName = ".env"

// Contents is what a project sync needs from a repository checkout.
type Contents struct {
	DotEnv      string
	HasDotenv   bool
	Compose     *domain.ComposeFile
	HasCompose  bool
	Routing     *domain.RoutingModel
	SourceNames []string

	labels map[string]map[string]string
}

// Services derives the project's service list from the compose file.
func (c *Contents) Services(projectID string) ([]domain.Service, error) {
	if c == nil || c.Compose == nil {
		return nil, nil
	}
	return Services(projectID, c.Compose, c.labels)
}

// Options configures a Reader.
type Options struct {
	BaseURL      string
	Token        string
	Timeout      time.Duration
	MaxScanBytes int64
}

// Reader clones repositories into memory and extracts their deployment inputs.
type Reader struct {
	opts   Options
	logger *slog.Logger
}

// NewReader constructs a Reader.
func NewReader(opts Options, logger *slog.Logger) *Reader {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://github.com"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{opts: opts, logger: logger.With("component", "gitsource")}
}

// RepoURL renders the clone URL for owner/name.
func (r *Reader) RepoURL(owner, name string) string {
	return strings.TrimRight(r.opts.BaseURL, "/") + "/" + owner + "/" + strings.TrimSuffix(name, ".git") + ".git"
}

// Read performs a shallow single-branch clone and inspects the checkout.
func (r *Reader) Read(ctx context.Context, owner, name, branch string) (*Contents, error) {
	if owner == "" || name == "" {
		return nil, fmt.Errorf("%w: repository owner and name required", domain.ErrInvalidConfig)
	}
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	opts := &git.CloneOptions{
		URL:          r.RepoURL(owner, name),
		Depth:        1,
		SingleBranch: true,
		Tags:         git.NoTags,
	}
	if branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(branch)
	}
	if r.opts.Token != "" {
		opts.Auth = &githttp.BasicAuth{Username: "x-access-token", Password: r.opts.Token}
	}

	started := time.Now()
	fs := memfs.New()
	if _, err := git.CloneContext(ctx, memory.NewStorage(), fs, opts); err != nil {
		return nil, fmt.Errorf("clone %s/%s@%s: %w", owner, name, branch, err)
	}
	r.logger.Debug("repository cloned", "repo", owner+"/"+name, "branch", branch, "duration", time.Since(started))
	return Inspect(fs, r.opts.MaxScanBytes)
}

// Inspect extracts the dotenv file, compose file, routing manifest and referenced
// environment names from a checked-out tree.
func Inspect(fs billy.Filesystem, maxScanBytes int64) (*Contents, error) {
	out := &Contents{}

	dotenv, ok, err := readOptional(fs, DotEnvFileName)
	if err != nil {
		return nil, err
	}
	out.DotEnv, out.HasDotenv = string(dotenv), ok

	for _, candidate := range ComposeFileNames {
		data, ok, err := readOptional(fs, candidate)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		compose, labels, err := ParseCompose(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", candidate, err)
		}
		out.Compose, out.labels, out.HasCompose = compose, labels, true
		break
	}

	manifest, ok, err := readOptional(fs, ManifestFileName)
	if err != nil {
		return nil, err
	}
	if ok {
		model, err := ParseManifest(manifest)
		if err != nil {
			return nil, err
		}
		out.Routing = &model
	}

	out.SourceNames, err = ScanEnvNames(fs, maxScanBytes)
	if err != nil {
		return nil, fmt.Errorf("scan sources: %w", err)
	}
	return out, nil
}

func readOptional(fs billy.Filesystem, name string) ([]byte, bool, error) {
	data, err := util.ReadFile(fs, name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", name, err)
	}
	return data, true, nil
}
