// Command studystore inspects and initializes a studystore database.
package main

import "github.com/mesh-intelligence/studystore/internal/cli"

func main() {
	cli.Execute()
}
