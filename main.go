package main

import "github.com/nextlevelbuilder/personate/cmd"

func main() {
	cmd.Execute()
}
