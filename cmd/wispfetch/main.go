package main

import (
	"context"
	"wispfetch/cmd/wispfetch/commands"
	"wispfetch/lib/osutil"
)

func main() {
	ctx, stop := osutil.SignalContext(context.Background())
	defer stop()
	commands.ExecuteContext(ctx)
}
