package util

import (
	"context"
	"errors"
	"sync"

	"github.com/mohitkumar/actionrouter/logger"
	"go.uber.org/zap"
)

type Task any

var ErrWorkerStopped = errors.New("worker stopped")

// Worker runs tasks one at a time in the order they were sent.
type Worker struct {
	name     string
	stop     chan struct{}
	stopOnce sync.Once
	wg       *sync.WaitGroup
	handler  func(context.Context, Task) error
	taskChan chan Task
}

func NewWorker(name string, wg *sync.WaitGroup, handler func(context.Context, Task) error, capacity int) *Worker {
	return &Worker{
		taskChan: make(chan Task, capacity),
		name:     name,
		wg:       wg,
		stop:     make(chan struct{}),
		handler:  handler,
	}
}

func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case task := <-w.taskChan:
				w.run(task)
			case <-w.stop:
				w.drain()
				logger.Info("stopping worker", zap.String("worker", w.name))
				return
			}
		}
	}()
}

// drain finishes what was accepted before Stop.
func (w *Worker) drain() {
	for {
		select {
		case task := <-w.taskChan:
			w.run(task)
		default:
			return
		}
	}
}

func (w *Worker) run(task Task) {
	if err := w.handler(context.Background(), task); err != nil {
		logger.Error("error in executing task in worker", zap.String("worker", w.name), zap.Any("task", task), zap.Error(err))
	}
}

// Send blocks while the queue is full, until ctx is done or the worker stops.
func (w *Worker) Send(ctx context.Context, task Task) error {
	select {
	case <-w.stop:
		return ErrWorkerStopped
	default:
	}
	select {
	case w.taskChan <- task:
		return nil
	case <-w.stop:
		return ErrWorkerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) Pending() int {
	return len(w.taskChan)
}

func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}
