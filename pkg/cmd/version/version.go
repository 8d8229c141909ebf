package version

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	goversion "github.com/hashicorp/go-version"
	"github.com/spf13/cobra"
	stripmd "github.com/writeas/go-strip-markdown"

	"github.com/eventual-inc/daft-launcher/pkg/terminal"
)

// Version is set at build time with -ldflags.
var Version = ""

var green = color.New(color.FgGreen).SprintfFunc()

var upToDateString = `
Current version: %s

` + green("You're up to date!")

var outOfDateString = `
Current version: %s

` + green("A new version of daft has been released!") + `

Version: %s

Details: %s

` + green("run 'pip install -U daft-launcher' to upgrade") + `

%s
`

type Release struct {
	TagName      string
	Name         string
	Body         string
	IsDraft      bool
	IsPrerelease bool
}

type VersionStore interface {
	GetLatestRelease() (*Release, error)
}

// Current returns the build version or "dev" for unversioned builds.
func Current() string {
	if Version == "" {
		return "dev"
	}
	return Version
}

func NewCmdVersion(t *terminal.Terminal, store VersionStore) *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the launcher version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !check {
				t.Vprint(Current())
				return nil
			}
			s, err := BuildVersionString(t, store)
			if err != nil {
				return err
			}
			t.Vprint(s)
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "compare against the latest published release")
	return cmd
}

func BuildVersionString(t *terminal.Terminal, store VersionStore) (string, error) {
	release, err := store.GetLatestRelease()
	if err != nil {
		t.Errprint(err, "Failed to retrieve latest version")
		return "", fmt.Errorf("fetching latest release: %w", err)
	}

	if !IsNewer(release.TagName, Current()) {
		return fmt.Sprintf(upToDateString, Current()), nil
	}
	return fmt.Sprintf(
		outOfDateString,
		Current(),
		release.TagName,
		release.Name,
		strings.TrimSpace(stripmd.Strip(release.Body)),
	), nil
}

// IsNewer reports whether latest is a strictly greater semantic version than current.
// Unparseable versions fall back to string inequality.
func IsNewer(latest string, current string) bool {
	l, errL := goversion.NewVersion(latest)
	c, errC := goversion.NewVersion(current)
	if errL != nil || errC != nil {
		return strings.TrimPrefix(latest, "v") != strings.TrimPrefix(current, "v")
	}
	return l.GreaterThan(c)
}
