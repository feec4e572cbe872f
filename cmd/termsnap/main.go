// Command termsnap captures terminal applications as screenshots.
package main

import "github.com/cboone/termsnap/internal/cli"

func main() {
	cli.Execute()
}
