package cons

// 连接关闭原因（日志 / 测试观察用）
const (
	CloseReasonClient       = "client_closed"
	CloseReasonReadError    = "read_error"
	CloseReasonWriteError   = "write_error"
	CloseReasonSlowConsumer = "slow_consumer"
	CloseReasonShutdown     = "shutdown"
)
