package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はセッションクリーンアップのワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}

// MigrateDirection はmigrateサブコマンドの操作を表す。
type MigrateDirection string

const (
	MigrateUp      MigrateDirection = "up"
	MigrateDown    MigrateDirection = "down"
	MigrateVersion MigrateDirection = "version"
)

// ParseMigrateDirection は "migrate [up|down|version]" の2番目の引数を解析する。
// 省略時やサポート外の値はMigrateUpを返す。
func ParseMigrateDirection(args []string) MigrateDirection {
	if len(args) < 2 {
		return MigrateUp
	}
	switch MigrateDirection(args[1]) {
	case MigrateDown:
		return MigrateDown
	case MigrateVersion:
		return MigrateVersion
	default:
		return MigrateUp
	}
}
