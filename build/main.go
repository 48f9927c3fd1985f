package main

import (
	"os"
	"os/exec"

	"github.com/goyek/goyek/v2"
)

func run(a *goyek.A, name string, args ...string) {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		a.Error(err)
	}
}

var vet = goyek.Define(goyek.Task{
	Name:  "vet",
	Usage: "Run go vet on all packages",
	Action: func(a *goyek.A) {
		run(a, "go", "vet", "./...")
	},
})

var test = goyek.Define(goyek.Task{
	Name:  "test",
	Usage: "Run all tests",
	Action: func(a *goyek.A) {
		run(a, "go", "test", "./...")
	},
})

var testShort = goyek.Define(goyek.Task{
	Name:  "test-short",
	Usage: "Run tests, skipping ones that spawn processes",
	Action: func(a *goyek.A) {
		run(a, "go", "test", "-short", "./...")
	},
})

var build = goyek.Define(goyek.Task{
	Name:  "build",
	Usage: "Build the speedway binary",
	Action: func(a *goyek.A) {
		run(a, "go", "build", "-o", "bin/speedway", "./cmd/speedway")
	},
})

var all = goyek.Define(goyek.Task{
	Name:  "all",
	Usage: "Vet, test, and build",
	Deps:  goyek.Deps{vet, test, build},
})

func main() {
	goyek.Main(os.Args[1:])
}
