package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
)

const configFlagName = "config"

var cfgFile string

// nolint: gochecknoinits
func init() {
	pflag.StringVarP(&cfgFile, configFlagName, "c", cfgFile,
		"从指定的文件读取配置, 支持JSON、TOML、YAML、HCL或Java properties格式。")
}

// addConfigFlag 注册--config标志并绑定viper:
// 环境变量前缀取自basename(ott-apiserver → OTT_APISERVER_),
// 未指定--config时按 当前目录/~/.ott/ /etc/ott/ 搜索<basename>.*。
func addConfigFlag(basename string, fs *pflag.FlagSet) {
	fs.AddFlag(pflag.Lookup(configFlagName))

	viper.AutomaticEnv()
	viper.SetEnvPrefix(strings.Replace(strings.ToUpper(basename), "-", "_", -1))
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	cobra.OnInitialize(func() {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			for _, dir := range configSearchPaths(basename) {
				viper.AddConfigPath(dir)
			}
			viper.SetConfigName(basename)
		}

		if err := viper.ReadInConfig(); err != nil {
			// 显式指定的配置文件读不到是硬错误, 默认搜索未命中只降级为纯标志启动
			if cfgFile != "" {
				_, _ = fmt.Fprintf(os.Stderr, "错误: 读取配置文件失败(%s): %v\n", cfgFile, err)
				os.Exit(1)
			}
			log.Warnf("viper未发现配置文件, 全部配置来自标志与环境变量: %s", err.Error())
		}
	})
}

// configSearchPaths 返回未指定--config时的配置搜索目录:
// 当前目录、~/.<前缀>/、/etc/<前缀>/。前缀取basename第一段(ott-apiserver → ott)。
func configSearchPaths(basename string) []string {
	dirs := []string{"."}
	if names := strings.Split(basename, "-"); len(names) > 1 {
		if home, err := os.UserHomeDir(); err == nil {
			dirs = append(dirs, filepath.Join(home, "."+names[0]))
		}
		dirs = append(dirs, filepath.Join("/etc", names[0]))
	}
	return dirs
}

// printConfig 以表格打印当前生效的全部配置项。
func printConfig() {
	if keys := viper.AllKeys(); len(keys) > 0 {
		fmt.Printf("%v 配置项:\n", progressMessage)
		table := uitable.New()
		table.Separator = " "
		table.MaxColWidth = 80
		table.RightAlign(0)

		for _, k := range keys {
			table.AddRow(fmt.Sprintf("%s:", k), viper.Get(k))
		}

		fmt.Printf("%v", table)
	}
	fmt.Println()
}
