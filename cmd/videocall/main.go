package main

import (
	"github.com/docconnect/videocall/internal/cmd"
	"github.com/docconnect/videocall/internal/logging"
)

func main() {
	logging.Init()
	cmd.Execute()
}
