package main

import "github.com/contalabs/bankd/internal/cli"

func main() {
	cli.Execute()
}
