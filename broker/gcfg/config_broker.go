package gcfg

type Broker struct {
	ServerTaskPoolSize int    `toml:"server_task_pool_size" validate:"default=2000"`
	MaxQos             int    `toml:"max_qos"  validate:"default=2"`           // 支持的最大qos，默认2，不得低于1
	AutoIdPrefix       string `toml:"auto_id_prefix" validate:"default=auto-"` // 设置客户端id前缀， 默认auto-
	RetainAvailable    bool   `toml:"retain_available"`                        // 设置为true表示支持retain消息
}
