// Command notely はノートAPIサーバー、セッションクリーンアップワーカー、マイグレーションを起動する。
//
//	notely [serve|worker|migrate [up|down|version]|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/notely/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "notely: %v\n", err)
		os.Exit(1)
	}
}
