package main

import (
	"fmt"
	"os"

	"betsweb/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "betsweb:", err)
		os.Exit(1)
	}
}
