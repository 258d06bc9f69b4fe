package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "finsight"}

	root.AddCommand(serveCMD(), migrateCMD(), redteamCMD())
	_ = root.Execute()
}
