package main

import (
	"github.com/multyvac/vac/bootstrap"
	"github.com/multyvac/vac/fn"
)

func main() {
	bootstrap.Main(fn.Default)
}
