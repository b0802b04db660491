package processor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/san-kum/rigwatch/server/models"
)

var (
	ErrQueueFull    = errors.New("control queue full")
	ErrQueueStopped = errors.New("control queue stopped")
)

// ProcessingQueue applies control commands one at a time in arrival order.
// A single worker drains it; a panicking command fails that item only.
type ProcessingQueue struct {
	items      chan *QueueItem
	workerFunc func(*QueueItem) (models.ControlState, error)
	wg         sync.WaitGroup
	shutdown   chan struct{}
	isRunning  bool
	mutex      sync.RWMutex
	processed  int64
	failed     int64
}

type QueueItem struct {
	Command    models.Command
	Source     string
	ResultChan chan *ProcessingResult
	EnqueuedAt time.Time
}

type ProcessingResult struct {
	State models.ControlState
	Error error
}

func NewQueueItem(cmd models.Command, source string) *QueueItem {
	return &QueueItem{
		Command:    cmd,
		Source:     source,
		ResultChan: make(chan *ProcessingResult, 1),
		EnqueuedAt: time.Now(),
	}
}

func NewProcessingQueue(queueSize int, workerFunc func(*QueueItem) (models.ControlState, error)) *ProcessingQueue {
	if queueSize < 1 {
		queueSize = 1
	}
	queue := &ProcessingQueue{
		items:      make(chan *QueueItem, queueSize),
		workerFunc: workerFunc,
		shutdown:   make(chan struct{}),
		isRunning:  true,
	}

	queue.wg.Add(1)
	go queue.worker()

	return queue
}

func (pq *ProcessingQueue) worker() {
	defer pq.wg.Done()

	for {
		select {
		case item := <-pq.items:
			pq.process(item)
		case <-pq.shutdown:
			return
		}
	}
}

func (pq *ProcessingQueue) process(item *QueueItem) {
	result := &ProcessingResult{}
	defer func() {
		if r := recover(); r != nil {
			result = &ProcessingResult{Error: fmt.Errorf("worker panic: %v", r)}
		}
		pq.mutex.Lock()
		if result.Error != nil {
			pq.failed++
		} else {
			pq.processed++
		}
		pq.mutex.Unlock()
		item.reply(result)
	}()

	result.State, result.Error = pq.workerFunc(item)
}

func (item *QueueItem) reply(result *ProcessingResult) {
	select {
	case item.ResultChan <- result:
	default:
	}
}

// Enqueue adds item without blocking.
func (pq *ProcessingQueue) Enqueue(item *QueueItem) error {
	pq.mutex.RLock()
	defer pq.mutex.RUnlock()
	if !pq.isRunning {
		return ErrQueueStopped
	}

	select {
	case pq.items <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

func (pq *ProcessingQueue) Size() int {
	return len(pq.items)
}

func (pq *ProcessingQueue) Capacity() int {
	return cap(pq.items)
}

func (pq *ProcessingQueue) IsRunning() bool {
	pq.mutex.RLock()
	defer pq.mutex.RUnlock()
	return pq.isRunning
}

// Shutdown stops the worker after the item in progress and fails whatever
// is still queued.
func (pq *ProcessingQueue) Shutdown(timeout time.Duration) error {
	pq.mutex.Lock()
	if !pq.isRunning {
		pq.mutex.Unlock()
		return nil
	}
	pq.isRunning = false
	pq.mutex.Unlock()

	close(pq.shutdown)

	done := make(chan struct{})
	go func() {
		pq.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		pq.DrainQueue()
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

func (pq *ProcessingQueue) DrainQueue() int {
	drained := 0

	for {
		select {
		case item := <-pq.items:
			item.reply(&ProcessingResult{Error: ErrQueueStopped})
			drained++
		default:
			return drained
		}
	}
}

func (pq *ProcessingQueue) GetQueueStats() QueueStats {
	pq.mutex.RLock()
	defer pq.mutex.RUnlock()

	return QueueStats{
		CurrentSize:        pq.Size(),
		MaxCapacity:        pq.Capacity(),
		IsRunning:          pq.isRunning,
		Processed:          pq.processed,
		Failed:             pq.failed,
		UtilizationPercent: float64(pq.Size()) / float64(pq.Capacity()) * 100,
	}
}

type QueueStats struct {
	CurrentSize        int     `json:"current_size"`
	MaxCapacity        int     `json:"max_capacity"`
	IsRunning          bool    `json:"is_running"`
	Processed          int64   `json:"processed"`
	Failed             int64   `json:"failed"`
	UtilizationPercent float64 `json:"utilization_percent"`
}
