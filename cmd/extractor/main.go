package main

import "github.com/JakeFAU/page-extractor/cmd"

func main() {
	cmd.Execute()
}
