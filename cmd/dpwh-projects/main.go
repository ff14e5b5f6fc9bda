// Command dpwh-projects tracks DPWH infrastructure projects across regional
// listing pages.
package main

import "github.com/pfrederiksen/dpwh-projects/internal/cli"

func main() {
	cli.Execute()
}
