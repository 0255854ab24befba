package utils

import (
	"context"
	"time"

	"github.com/fansqz/lua-debugger/utils/gosync"
	"github.com/sirupsen/logrus"
)

// TimeoutManager 一个计时器
// 如果在timeout时间内没有执行Reset命令，就会执行fun函数
type TimeoutManager struct {
	timer         *time.Timer
	timeout       time.Duration
	resetChannel  chan bool
	cancelChannel chan bool
	fun           func()
}

// NewTimeoutManager 创建一个新的计时器实例
func NewTimeoutManager() *TimeoutManager {
	return &TimeoutManager{}
}

// Start 开始计时
// 在timeout时间内没有执行Reset命令，就会执行fun函数
func (t *TimeoutManager) Start(ctx context.Context, timeout time.Duration, fun func()) {
	t.timer = time.NewTimer(timeout)
	t.timeout = timeout
	t.fun = fun
	t.resetChannel = make(chan bool)
	t.cancelChannel = make(chan bool)
	gosync.Go(ctx, func(ctx context.Context) {
		for {
			select {
			case <-t.timer.C:
				logrus.Infof("[TimeoutManager] timer expired, performing action")
				t.fun()
				return
			case <-t.resetChannel:
				if !t.timer.Stop() {
					<-t.timer.C
				}
				t.timer.Reset(t.timeout)
			case <-t.cancelChannel:
				if !t.timer.Stop() {
					select {
					case <-t.timer.C:
					default:
					}
				}
				return
			}
		}
	})
}

// Reset 重置计时，计时器已经结束时是空操作
func (t *TimeoutManager) Reset() {
	if t.resetChannel == nil {
		return
	}
	select {
	case t.resetChannel <- true:
	default:
	}
}

// Cancel 取消计时，计时器已经结束时是空操作
func (t *TimeoutManager) Cancel() {
	if t.cancelChannel == nil {
		return
	}
	select {
	case t.cancelChannel <- true:
	default:
	}
}
