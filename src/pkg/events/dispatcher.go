//go:generate mockgen -package mock -destination mock/mock.go github.com/yuhaohwang/danmubot/src/pkg/events Dispatcher

package events

import (
	"container/list"
	"context"
	"sync"

	"github.com/yuhaohwang/danmubot/src/instance"
	"github.com/yuhaohwang/danmubot/src/interfaces"
)

// NewDispatcher 创建事件分发器，ctx 中带有实例时挂到实例上。
func NewDispatcher(ctx context.Context) Dispatcher {
	ed := &dispatcher{
		saver: make(map[EventType]*list.List),
	}
	if inst := instance.GetInstance(ctx); inst != nil {
		inst.EventDispatcher = ed
	}
	return ed
}

// Dispatcher 定义事件分发器的接口。
type Dispatcher interface {
	interfaces.Module
	AddEventListener(eventType EventType, listener *EventListener)
	RemoveEventListener(eventType EventType, listener *EventListener)
	RemoveAllEventListener(eventType EventType)
	DispatchEvent(event *Event)
}

type dispatcher struct {
	sync.RWMutex
	saver map[EventType]*list.List // map<EventType, List<*EventListener>>
}

func (e *dispatcher) Start(ctx context.Context) error {
	return nil
}

// Close 清空所有监听器。
func (e *dispatcher) Close(ctx context.Context) {
	e.Lock()
	e.saver = make(map[EventType]*list.List)
	e.Unlock()
}

// AddEventListener 添加事件监听器，nil 监听器会被忽略。
func (e *dispatcher) AddEventListener(eventType EventType, listener *EventListener) {
	if listener == nil {
		return
	}
	e.Lock()
	defer e.Unlock()

	listeners, ok := e.saver[eventType]
	if !ok {
		listeners = list.New()
		e.saver[eventType] = listeners
	}
	listeners.PushBack(listener)
}

// RemoveEventListener 移除事件监听器。
func (e *dispatcher) RemoveEventListener(eventType EventType, listener *EventListener) {
	e.Lock()
	defer e.Unlock()

	listeners, ok := e.saver[eventType]
	if !ok {
		return
	}
	for el := listeners.Front(); el != nil; {
		next := el.Next()
		if el.Value == listener {
			listeners.Remove(el)
		}
		el = next
	}
	if listeners.Len() == 0 {
		delete(e.saver, eventType)
	}
}

// RemoveAllEventListener 移除指定事件类型的所有监听器。
func (e *dispatcher) RemoveAllEventListener(eventType EventType) {
	e.Lock()
	defer e.Unlock()
	delete(e.saver, eventType)
}

// DispatchEvent 在新的 goroutine 中按注册顺序调用监听器。
func (e *dispatcher) DispatchEvent(event *Event) {
	if event == nil {
		return
	}

	e.RLock()
	listeners, ok := e.saver[event.Type]
	if !ok {
		e.RUnlock()
		return
	}
	// 复制一份，避免回调期间持有锁
	hs := make([]*EventListener, 0, listeners.Len())
	for el := listeners.Front(); el != nil; el = el.Next() {
		hs = append(hs, el.Value.(*EventListener))
	}
	e.RUnlock()

	go func() {
		for _, h := range hs {
			h.Handler(event)
		}
	}()
}
