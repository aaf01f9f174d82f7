package options

import (
	"github.com/spf13/pflag"

	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/server"
)

// FeatureOptions 控制可选的运维特性开关(pprof/metrics),
// 与业务无关, 单独成组方便在命令行上用 --feature.* 统一管理.
type FeatureOptions struct {
	EnableProfiling bool `json:"profiling"      mapstructure:"profiling"`
	EnableMetrics   bool `json:"enable-metrics" mapstructure:"enable-metrics"`
}

// NewFeatureOptions 从服务器缺省配置派生特性开关的默认值.
func NewFeatureOptions() *FeatureOptions {
	defaults := getServerDefaults()

	return &FeatureOptions{
		EnableProfiling: defaults.EnableProfiling,
		EnableMetrics:   defaults.EnableMetrics,
	}
}

func (o *FeatureOptions) ApplyTo(c *server.Config) error {
	c.EnableMetrics = o.EnableMetrics
	c.EnableProfiling = o.EnableProfiling
	return nil
}

func (o *FeatureOptions) Validate() []error {
	return []error{}
}

// AddFlags adds flags related to features for a specific api server to the
// specified FlagSet.
func (o *FeatureOptions) AddFlags(fs *pflag.FlagSet) {
	if fs == nil {
		return
	}

	fs.BoolVar(&o.EnableProfiling, "feature.profiling", o.EnableProfiling,
		"开启后可通过 <host>:<port>/debug/pprof/ 进行性能剖析.")

	fs.BoolVar(&o.EnableMetrics, "feature.enable-metrics", o.EnableMetrics,
		"开启后暴露 <host>:<port>/metrics 指标端点.")
}
