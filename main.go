package main

import (
	"github.com/wafleet/wafleet/cmd"
)

func main() {
	cmd.Execute()
}
