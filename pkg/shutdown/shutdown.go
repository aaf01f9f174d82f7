/*
shutdown 包提供优雅关停框架: ShutdownManager 负责监听关停触发源
(默认是POSIX信号), ShutdownCallback 注册进程退出前必须完成的收尾
动作(刷审计缓冲、关存储连接、停HTTP服务)。触发后所有回调并发执行,
全部返回才进入收尾阶段。

典型用法:

	gs := shutdown.New()
	gs.AddShutdownManager(posixsignal.NewPosixSignalManager())
	gs.AddShutdownCallback(shutdown.ShutdownFunc(func(string) error {
	    return server.Close()
	}))
	if err := gs.Start(); err != nil {
	    return err
	}
*/
package shutdown

import (
	"sync"
)

// ShutdownCallback 是关停时需要执行的回调。参数是触发关停的
// ShutdownManager 名称, 回调可据此区分触发源。
type ShutdownCallback interface {
	OnShutdown(string) error
}

// ShutdownFunc 把普通函数适配成 ShutdownCallback。
type ShutdownFunc func(string) error

func (f ShutdownFunc) OnShutdown(shutdownManager string) error {
	return f(shutdownManager)
}

// ShutdownManager 监听一种关停触发源。Start 启动监听;
// 触发时框架依次调用 ShutdownStart() → 全部回调 → ShutdownFinish()。
type ShutdownManager interface {
	GetName() string
	Start(gs GSInterface) error
	ShutdownStart() error
	ShutdownFinish() error
}

// ErrorHandler 处理回调和管理器产生的异步错误。
type ErrorHandler interface {
	OnError(err error)
}

// ErrorFunc 把普通函数适配成 ErrorHandler。
type ErrorFunc func(err error)

func (f ErrorFunc) OnError(err error) {
	f(err)
}

// GSInterface 是暴露给 ShutdownManager 的回调接口,
// 管理器检测到触发源后通过 StartShutdown 启动关停流程。
type GSInterface interface {
	StartShutdown(sm ShutdownManager)
	ReportError(err error)
	AddShutdownCallback(shutdownCallback ShutdownCallback)
}

// GracefulShutdown 聚合回调与管理器, 是框架的入口结构。
type GracefulShutdown struct {
	callbacks    []ShutdownCallback
	managers     []ShutdownManager
	errorHandler ErrorHandler
}

// New 创建空的 GracefulShutdown。
func New() *GracefulShutdown {
	return &GracefulShutdown{
		callbacks: make([]ShutdownCallback, 0, 10),
		managers:  make([]ShutdownManager, 0, 3),
	}
}

// Start 启动全部 ShutdownManager 的监听, 任何一个启动失败则整体失败。
func (gs *GracefulShutdown) Start() error {
	for _, manager := range gs.managers {
		if err := manager.Start(gs); err != nil {
			return err
		}
	}

	return nil
}

// AddShutdownManager 注册一个关停触发源。
func (gs *GracefulShutdown) AddShutdownManager(manager ShutdownManager) {
	gs.managers = append(gs.managers, manager)
}

// AddShutdownCallback 注册一个关停回调, 触发时并发执行。
func (gs *GracefulShutdown) AddShutdownCallback(shutdownCallback ShutdownCallback) {
	gs.callbacks = append(gs.callbacks, shutdownCallback)
}

// SetErrorHandler 设置异步错误处理器, 不设置则错误被丢弃。
func (gs *GracefulShutdown) SetErrorHandler(errorHandler ErrorHandler) {
	gs.errorHandler = errorHandler
}

// StartShutdown 由 ShutdownManager 在触发源命中时调用:
// 先执行管理器的 ShutdownStart, 再并发执行所有回调并等待,
// 最后执行 ShutdownFinish(POSIX管理器在这里退出进程)。
func (gs *GracefulShutdown) StartShutdown(sm ShutdownManager) {
	gs.ReportError(sm.ShutdownStart())

	var wg sync.WaitGroup
	for _, shutdownCallback := range gs.callbacks {
		wg.Add(1)
		go func(shutdownCallback ShutdownCallback) {
			defer wg.Done()
			gs.ReportError(shutdownCallback.OnShutdown(sm.GetName()))
		}(shutdownCallback)
	}

	wg.Wait()

	gs.ReportError(sm.ShutdownFinish())
}

// ReportError 把非空错误交给错误处理器。
func (gs *GracefulShutdown) ReportError(err error) {
	if err != nil && gs.errorHandler != nil {
		gs.errorHandler.OnError(err)
	}
}
