/*
Copyright © 2025 jesse galley <jesse@jessegalley.net>
*/
package main

import (
	"github.com/jessegalley/zbdgen/cmd"
)

func main() {
	cmd.Execute()
}
