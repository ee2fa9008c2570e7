package logging

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
)

// ANSI color codes.
const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	cyan   = "\033[36m"
	green  = "\033[32m"
	dim    = "\033[2m"
)

// logoLines is the kernald ASCII art logo.
var logoLines = [6]string{
	`  _                        _     _ `,
	` | | _____ _ __ _ __   __ _| | __| |`,
	` | |/ / _ \ '__| '_ \ / _` + "`" + ` | |/ _` + "`" + ` |`,
	` |   <  __/ |  | | | | (_| | | (_| |`,
	` |_|\_\___|_|  |_| |_|\__,_|_|\__,_|`,
	`                                     `,
}

// PrintBanner prints the kernald ASCII art logo, version and listen
// address to stderr. Colors are used only when stderr is a TTY.
func PrintBanner(ver, addr string) {
	color := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

	for _, line := range logoLines {
		if color {
			fmt.Fprintf(os.Stderr, "%s%s%s\n", bold+cyan, line, reset)
		} else {
			fmt.Fprintf(os.Stderr, "%s\n", line)
		}
	}

	if color {
		fmt.Fprintf(os.Stderr, "\n  %sversion%s %s   %saddr%s %s\n\n",
			dim, reset, ver, dim, reset, addr)
	} else {
		fmt.Fprintf(os.Stderr, "\n  version %s   addr %s\n\n", ver, addr)
	}
}

// PrintListening prints the daemon's listen URL to stderr.
func PrintListening(addr string) {
	isTTY := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	url := "http://" + addr
	if isTTY {
		fmt.Fprintf(os.Stderr, "  %s%s➜%s  %s%s%s\n\n", bold, green, reset, bold, url, reset)
	} else {
		fmt.Fprintf(os.Stderr, "  ➜  %s\n\n", url)
	}
}
