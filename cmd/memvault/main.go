package main

import "github.com/aschepis/memvault/cli"

func main() {
	cli.Main()
}
