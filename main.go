package main

import "github.com/unsafepay/unsafepay/cmd"

func main() {
	cmd.Execute()
}
