package main

import (
	"go.uber.org/fx"

	"github.com/calderaware/refinery/internal/app"
)

func main() {
	fx.New(app.Module).Run()
}
