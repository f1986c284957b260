package version

import (
	"fmt"
	"log"
	"strings"

	"github.com/arrowdb/conncore/theme"
)

var (
	Name        = "conncore"
	Authors     = "arrowdb"
	Description = "Connection endpoint core for the arrowdb client"
	Version     = "v0.0.1"
	Commit      = "none"
	Date        = "nowish"
	User        = "local"
)

const (
	GithubHomeText  = "github.com/arrowdb/conncore"
	GithubHomeUri   = "https://github.com/arrowdb/conncore"
	GithubLatestUri = "https://github.com/arrowdb/conncore/releases/latest"
)

func PrintVersionInfo(extendedInfo bool, vlog *log.Logger) {
	githubUri := theme.Hyperlink(GithubHomeUri, GithubHomeText)
	latestUri := theme.Hyperlink(GithubLatestUri, Version)
	padLatest := fmt.Sprintf("%*s", 1-len(Version), "")
	padBuffer := fmt.Sprintf("%*s", 2, "")

	var b strings.Builder

	b.WriteString(theme.ColourSplash(`
╔────────────────────────────────────────────────────────╗
│    ___                      ___                        │
│   / __|___ _ _  _ _  __ ___ / __|___ _ _ ___            │
│  | (__/ _ \ ' \| ' \/ _/ _ \ (__/ _ \ '_/ -_)           │
│   \___\___/_||_|_||_\__\___/\___\___/_| \___|           │` + "\n"))

	b.WriteString(theme.ColourSplash("│ "))
	b.WriteString(theme.StyleUrl(githubUri))
	b.WriteString(padLatest)
	b.WriteString(theme.ColourVersion(latestUri))
	b.WriteString(padBuffer)
	b.WriteString(theme.ColourSplash(" │\n"))
	b.WriteString(theme.ColourSplash("╚────────────────────────────────────────────────────────╝"))

	if extendedInfo {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf(" Commit: %s\n", Commit))
		b.WriteString(fmt.Sprintf("  Built: %s\n", Date))
		b.WriteString(fmt.Sprintf("  Using: %s\n", User))
	}

	vlog.Println(b.String())
}
