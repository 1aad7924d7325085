package version

// Version/Commit 可在构建时通过 -ldflags 注入，默认使用开发占位符。
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// Full 用于 CLI 输出与启动日志。
func Full() string {
	return "blobmirror " + Version + "+" + Commit
}

// UserAgent 标识镜像发往远端对象存储的请求。
func UserAgent() string {
	return "blobmirror/" + Version
}
