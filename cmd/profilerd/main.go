package main

import "github.com/causalprof/profilomatic/cmd/profilerd/cmd"

func main() {
	cmd.Execute()
}
