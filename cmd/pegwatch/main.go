package main

import (
	"pegwatch/internal/cli"
)

func main() {
	cli.Execute()
}
