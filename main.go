package main

import (
	"example.com/santekene/services/ledger/cmd"
)

func main() {
	cmd.Execute()
}
