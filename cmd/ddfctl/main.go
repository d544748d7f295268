package main

import (
	"github.com/ddfserve/ddfserve/internal/cli"
)

func main() {
	cli.Execute()
}
