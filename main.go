package main

import "wasmkey/cmd"

func main() {
	cmd.Execute()
}
