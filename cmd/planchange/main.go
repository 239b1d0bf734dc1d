package main

import "github.com/wuyiadepoju/planchange/internal/cli"

func main() {
	cli.Execute()
}
