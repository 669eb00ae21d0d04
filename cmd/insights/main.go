package main

import (
	"os"

	"horse.fit/insights/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
