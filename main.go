package main

import (
	"github.com/tcgscout/tcgscout/cmd"
)

func main() {
	cmd.Execute()
}
