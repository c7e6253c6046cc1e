package main

import "github.com/emrgen/catalog/cmd"

func main() {
	cmd.Execute()
}
