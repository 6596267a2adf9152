package main

import (
	"os"

	"horse.fit/glint/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
