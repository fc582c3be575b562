// The main package for the tunepull executable.
package main

import (
	"tunepull/cmd"
)

func main() {
	cmd.Execute()
}
