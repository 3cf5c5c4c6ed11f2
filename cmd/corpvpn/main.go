package main

import "corpvpn/internal/cli"

func main() {
	cli.Execute()
}
