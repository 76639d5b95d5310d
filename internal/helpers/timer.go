package helpers

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Timer records nested phase timings. A nil timer is valid and records
// nothing, which keeps call sites free of conditionals.
type Timer struct {
	data  []timerData
	mutex sync.Mutex
}

type timerData struct {
	time  time.Time
	name  string
	isEnd bool
}

func (t *Timer) Begin(name string) {
	if t != nil {
		t.mutex.Lock()
		defer t.mutex.Unlock()
		t.data = append(t.data, timerData{
			name: name,
			time: time.Now(),
		})
	}
}

func (t *Timer) End(name string) {
	if t != nil {
		t.mutex.Lock()
		defer t.mutex.Unlock()
		t.data = append(t.data, timerData{
			name:  name,
			time:  time.Now(),
			isEnd: true,
		})
	}
}

// Durations pairs every Begin with its End. Phases that never ended are
// skipped.
func (t *Timer) Durations() map[string]time.Duration {
	if t == nil {
		return nil
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()

	result := make(map[string]time.Duration)
	var stack []timerData
	for _, item := range t.data {
		if !item.isEnd {
			stack = append(stack, item)
			continue
		}
		for i := len(stack) - 1; i >= 0; i-- {
			if stack[i].name == item.name {
				result[item.name] += item.time.Sub(stack[i].time)
				stack = append(stack[:i], stack[i+1:]...)
				break
			}
		}
	}
	return result
}

func (t *Timer) Log(z *zap.Logger) {
	if t == nil || z == nil {
		return
	}
	t.mutex.Lock()
	data := append([]timerData{}, t.data...)
	t.mutex.Unlock()

	var stack []timerData
	for _, item := range data {
		if !item.isEnd {
			stack = append(stack, item)
			continue
		}
		last := len(stack) - 1
		if last < 0 || stack[last].name != item.name {
			panic("Internal error")
		}
		top := stack[last]
		stack = stack[:last]
		z.Debug("phase finished",
			zap.String("phase", strings.Repeat("  ", len(stack))+top.name),
			zap.Duration("elapsed", item.time.Sub(top.time)))
	}
}
