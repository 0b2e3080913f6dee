package main

import "github.com/andresmejia3/facelabel/cmd"

func main() {
	cmd.Execute()
}
