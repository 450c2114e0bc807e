package main

import "github.com/piyushgupta53/featherbot-sub000/cmd"

func main() {
	cmd.Execute()
}
