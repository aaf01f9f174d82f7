// pkg/log/klog.go
// k8s 生态的类库（client-go 等）只会往 klog 写日志，不做重定向的话这些
// 日志会绕过 zap 直接打到 stderr，既没有统一格式也不受级别控制。
// 这里把 klog 的全部输出接到本包的 info 流上。
package log

import (
	goflag "flag"

	"k8s.io/klog"
)

type klogWriter struct{}

// Write 实现 io.Writer，把 klog 格式化好的一行日志转投给 zap。
func (klogWriter) Write(p []byte) (n int, err error) {
	msg := string(p)
	// klog 每条消息自带换行，去掉避免双空行
	if len(msg) > 0 && msg[len(msg)-1] == '\n' {
		msg = msg[:len(msg)-1]
	}
	Info(msg)
	return len(p), nil
}

// redirectKlog 关闭 klog 自身的 stderr 输出并接管其写入目标。
// 由 Init 调用一次，不要并发调用。
func redirectKlog() {
	var fs goflag.FlagSet
	klog.InitFlags(&fs)
	_ = fs.Set("logtostderr", "false")
	_ = fs.Set("alsologtostderr", "false")
	_ = fs.Set("stderrthreshold", "FATAL")
	klog.SetOutputBySeverity("INFO", klogWriter{})
}
