package main

import (
	"os"

	"github.com/phillip-england/marketadmin/internal/marketadmincli"
)

func main() {
	if err := marketadmincli.Execute(os.Args[1:]); err != nil {
		os.Exit(1)
	}
}
