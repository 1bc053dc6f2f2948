/*
Copyright © 2026 Swap Service Authors
*/
package main

import "github.com/dexrouter/swap-service/cmd"

func main() {
	cmd.Execute()
}
