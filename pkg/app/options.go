package app

import (
	cliFlag "github.com/maxiaolu1981/cretem/nexuscore/component-base/cli/flag"
)

// CliOptions 命令行应用的配置抽象, 由具体服务的聚合Options实现。
// Flags返回按功能分组的标志集, Validate在标志解析后做合法性校验。
type CliOptions interface {
	Flags() cliFlag.NamedFlagSets
	Validate() []error
}

// CompleteableOptions 支持在校验前补全派生默认值的配置。
type CompleteableOptions interface {
	Complete() error
}

// PrintableOptions 支持打印生效配置的配置。
type PrintableOptions interface {
	String() string
}
