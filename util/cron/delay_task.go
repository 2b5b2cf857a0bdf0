package cron

import (
	"fmt"
	"time"

	. "github.com/lybxkl/gmqttd/common/log"
	"github.com/lybxkl/gmqttd/util/gopool"
)

var DelayTaskManager = NewMemDelayTaskManage()

type ID = string

// DelayTask 一次性延迟任务，到期执行一次后自动从调度器移除
type DelayTask struct {
	ID             ID
	DealTime       time.Duration // 延迟时间
	Data           interface{}
	Fn             func(data interface{})
	CancelCallback func()
	icron          Icron
}

func (g *DelayTask) Run() {
	defer func() {
		if err := recover(); err != nil {
			Log.Error(err)
		}
		g.icron.Remove(g.ID)
	}()
	g.Fn(g.Data)
}

type DelayTaskManage interface {
	Run(*DelayTask) error
	Cancel(ID)
}

type memDelayTaskManage struct {
	icron Icron
}

func NewMemDelayTaskManage() DelayTaskManage {
	return &memDelayTaskManage{icron: Get()}
}

func (d *memDelayTaskManage) Run(task *DelayTask) error {
	Log.Debugf("添加%s的延迟任务, 延迟时间：%s", task.ID, task.DealTime)
	if task.DealTime <= 0 {
		gopool.Submit(func() {
			task.Fn(task.Data)
		})
		return nil
	}
	task.icron = d.icron

	err := d.icron.AddJob(fmt.Sprintf("@every %s", task.DealTime), task.ID, task)
	return err
}

// Cancel 取消任务，任务不存在时为空操作
func (d *memDelayTaskManage) Cancel(id ID) {
	job, exist := d.icron.GetJob(id)
	if !exist {
		return
	}
	Log.Debugf("取消%s的延迟任务", id)
	d.icron.Remove(id)

	if task, ok := job.(*DelayTask); ok && task.CancelCallback != nil {
		task.CancelCallback() // 执行取消任务回调方法
	}
}
