package main

import "github.com/andresmejia3/idgate/cmd"

func main() {
	cmd.Execute()
}
