package models

import (
	"errors"
	"fmt"
)

// 错误分类，调用方通过 errors.Is 判断
var (
	ErrValidation     = errors.New("参数校验失败")
	ErrCapacity       = errors.New("容量已满")
	ErrNotFound       = errors.New("对象不存在")
	ErrTimeout        = errors.New("等待超时")
	ErrTaskCancelled  = errors.New("任务已取消")
	ErrBackend        = errors.New("后端存储不可用")
	ErrNotImplemented = errors.New("未配置批处理器")
	ErrStopped        = errors.New("调度器已停止")
)

// TaskFailedError 任务重试耗尽后的最终错误
type TaskFailedError struct {
	TaskID  string
	Retries int
	Err     error
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("任务 %s 执行失败 (重试 %d 次): %v", e.TaskID, e.Retries, e.Err)
}

func (e *TaskFailedError) Unwrap() error {
	return e.Err
}
