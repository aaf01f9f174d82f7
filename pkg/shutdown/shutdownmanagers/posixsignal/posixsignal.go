/*
posixsignal 包实现基于POSIX信号的关停管理器, 默认监听SIGINT和
SIGTERM。收到信号后触发 GracefulShutdown 的关停流程, 全部回调
完成后以 os.Exit(0) 退出进程。
*/
package posixsignal

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/maxiaolu1981/cretem/ottserver/pkg/shutdown"
)

// Name 是本管理器在关停回调里看到的触发源名称。
const Name = "PosixSignalManager"

// PosixSignalManager 实现 shutdown.ShutdownManager。
type PosixSignalManager struct {
	signals []os.Signal
}

// NewPosixSignalManager 创建信号管理器, 不传参数时监听SIGINT和SIGTERM。
func NewPosixSignalManager(sig ...os.Signal) *PosixSignalManager {
	if len(sig) == 0 {
		sig = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}

	return &PosixSignalManager{
		signals: sig,
	}
}

func (posixSignalManager *PosixSignalManager) GetName() string {
	return Name
}

// Start 在后台goroutine中阻塞等待信号, 命中后启动关停流程。
func (posixSignalManager *PosixSignalManager) Start(gs shutdown.GSInterface) error {
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, posixSignalManager.signals...)

		<-c

		gs.StartShutdown(posixSignalManager)
	}()

	return nil
}

func (posixSignalManager *PosixSignalManager) ShutdownStart() error {
	return nil
}

// ShutdownFinish 所有回调执行完毕后退出进程。
func (posixSignalManager *PosixSignalManager) ShutdownFinish() error {
	os.Exit(0)

	return nil
}
