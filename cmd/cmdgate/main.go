// cmdgate is the remote-command authorization gateway.
package main

import "github.com/ppiankov/cmdgate/internal/cli"

func main() {
	cli.Execute()
}
