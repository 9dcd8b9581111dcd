package main

import (
	"github.com/vigil-run/vigil/internal/build"
	"github.com/vigil-run/vigil/internal/cmd"
)

var version = "0.0.0"

func main() {
	build.Version = version
	cmd.Execute()
}
