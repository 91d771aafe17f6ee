package main

import "github.com/theirongolddev/ccmeter/cmd"

func main() {
	cmd.Execute()
}
