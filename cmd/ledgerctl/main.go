package main

import "retail-ledger/internal/adapters/cli"

func main() {
	cli.Execute()
}
