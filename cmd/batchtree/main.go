// Command batchtree imports, recomputes and stores catch and sample trees.
package main

import "github.com/mesh-intelligence/batchtree/internal/cli"

func main() {
	cli.Execute()
}
