package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/creativeprojects/go-selfupdate"
	"github.com/spf13/cobra"

	"github.com/shaharia-lab/pendulum/internal/build"
)

const releaseSlug = "shaharia-lab/pendulum"

// releaseSource finds published releases and installs one over the running
// binary.
type releaseSource interface {
	Latest(ctx context.Context) (version string, found bool, err error)
	Install(ctx context.Context, version, exe string) error
}

// githubReleases is the releaseSource backed by GitHub releases.
type githubReleases struct {
	updater *selfupdate.Updater
	repo    selfupdate.Repository
}

func newGitHubReleases(slug string) (*githubReleases, error) {
	u, err := selfupdate.NewUpdater(selfupdate.Config{})
	if err != nil {
		return nil, fmt.Errorf("creating updater: %w", err)
	}
	return &githubReleases{updater: u, repo: selfupdate.ParseSlug(slug)}, nil
}

func (g *githubReleases) Latest(ctx context.Context) (string, bool, error) {
	rel, found, err := g.updater.DetectLatest(ctx, g.repo)
	if err != nil || !found {
		return "", found, err
	}
	return rel.Version(), true, nil
}

func (g *githubReleases) Install(ctx context.Context, version, exe string) error {
	rel, found, err := g.updater.DetectVersion(ctx, g.repo, version)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("release %s has no asset for this platform", version)
	}
	return g.updater.UpdateTo(ctx, rel, exe)
}

// updater drives one self-update: compare, confirm, install.
type updater struct {
	source  releaseSource
	current *semver.Version
	exe     string
	in      io.Reader
	out     io.Writer
	yes     bool
}

// NewUpdateCmd returns the "update" subcommand that self-updates the binary.
func NewUpdateCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update pendulum to the latest release",
		Long:  "Look up the newest pendulum release on GitHub and replace this binary with it.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			current, err := build.Semver()
			if err != nil {
				return fmt.Errorf("cannot update a dev build; install a tagged release first: %w", err)
			}
			src, err := newGitHubReleases(releaseSlug)
			if err != nil {
				return err
			}
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("finding current executable: %w", err)
			}
			u := &updater{
				source:  src,
				current: current,
				exe:     exe,
				in:      cmd.InOrStdin(),
				out:     cmd.OutOrStdout(),
				yes:     yes,
			}
			return u.run(cmd.Context())
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Install without asking")
	return cmd
}

func (u *updater) run(ctx context.Context) error {
	fmt.Fprintf(u.out, "pendulum %s, looking for a newer release\n", u.current)

	latest, found, err := u.source.Latest(ctx)
	if err != nil {
		return fmt.Errorf("checking for updates: %w", err)
	}
	if !found {
		fmt.Fprintln(u.out, "no releases published")
		return nil
	}
	next, err := semver.NewVersion(latest)
	if err != nil {
		return fmt.Errorf("parsing release version %q: %w", latest, err)
	}
	if !next.GreaterThan(u.current) {
		fmt.Fprintf(u.out, "%s is the latest release\n", u.current)
		return nil
	}

	if !u.yes && !u.confirm(fmt.Sprintf("install %s? [y/N] ", next)) {
		fmt.Fprintln(u.out, "update skipped")
		return nil
	}

	if err := u.source.Install(ctx, latest, u.exe); err != nil {
		return fmt.Errorf("installing %s: %w", next, err)
	}
	fmt.Fprintf(u.out, "installed %s; restart pendulum to use it\n", next)
	return nil
}

func (u *updater) confirm(prompt string) bool {
	fmt.Fprint(u.out, prompt)
	sc := bufio.NewScanner(u.in)
	if !sc.Scan() {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(sc.Text())) {
	case "y", "yes":
		return true
	}
	return false
}
