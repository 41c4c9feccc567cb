package main

import (
	"github.com/ledgersift/txdecoder/cmd"
)

func main() {
	cmd.Execute()
}
