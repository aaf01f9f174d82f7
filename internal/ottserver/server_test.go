package ottserver

import (
	"testing"

	genericoptions "github.com/maxiaolu1981/cretem/ottserver/internal/pkg/options"
)

// storage包有自己的连接配置类型, 选项需要逐字段翻译过去。
// 选项包经由server、middleware最终依赖storage, 两边共用类型会成环。
func TestRedisStorageConfigTranslation(t *testing.T) {
	ro := genericoptions.NewRedisOptions()
	ro.Host = "10.0.0.8"
	ro.Port = 6380
	ro.Password = "secret"
	ro.Database = 2
	ro.MaxActive = 64
	ro.Timeout = 7
	ro.MasterName = "mymaster"
	ro.EnableCluster = true
	ro.UseSSL = true
	ro.SSLInsecureSkipVerify = true
	ro.Complete()

	cfg := redisStorageConfig(ro)

	if len(cfg.Addrs) != 1 || cfg.Addrs[0] != "10.0.0.8:6380" {
		t.Fatalf("Addrs未翻译: %v", cfg.Addrs)
	}
	if cfg.Password != "secret" || cfg.Database != 2 || cfg.MaxActive != 64 {
		t.Errorf("连接参数未翻译: %+v", cfg)
	}
	if cfg.Timeout != 7 {
		t.Errorf("Timeout = %d, 期望 7", cfg.Timeout)
	}
	if cfg.MasterName != "mymaster" || !cfg.EnableCluster || !cfg.UseSSL || !cfg.SSLInsecureSkipVerify {
		t.Errorf("拓扑与TLS参数未翻译: %+v", cfg)
	}
}
