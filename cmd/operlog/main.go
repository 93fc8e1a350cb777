package main

import (
	"operlog-client/cmd/operlog/commands"
	"operlog-client/lib/serviceutil"
)

func main() {
	commands.ExecuteContext(serviceutil.SignalContext())
}
