// The main package for the productdedup executable.
package main

import "github.com/JakeFAU/realtime-cpi-dedup/cmd"

func main() {
	cmd.Execute()
}
