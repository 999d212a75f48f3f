package main

import "github.com/yyang42/assembl/cmd/assemblapi/cmd"

func main() {
	cmd.Execute()
}
