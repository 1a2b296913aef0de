package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"consilium.app/panel/tools/linters/enumvalidator"
)

func main() {
	singlechecker.Main(enumvalidator.Analyzer)
}
