package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はストアフロントゲートウェイを起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はkv_storeのマイグレーションを実行することを示す。
	// STORE_BACKEND=postgres の場合のみ意味を持つ。
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
