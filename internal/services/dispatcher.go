package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"commentry/internal/models"
)

// Dispatcher 异步投递通知邮件，失败时有限次重试
type Dispatcher struct {
	mailer      Mailer
	queue       chan models.Notification // 待发送的通知队列
	pending     map[string]bool
	maxAttempts int
	retryDelay  time.Duration

	mu       sync.Mutex
	closed   bool
	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

func NewDispatcher(mailer Mailer, size, maxAttempts int, retryDelay time.Duration) *Dispatcher {
	if size <= 0 {
		size = 500
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Dispatcher{
		mailer:      mailer,
		queue:       make(chan models.Notification, size), // 缓冲队列，防止阻塞请求
		pending:     make(map[string]bool),
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		stop:        make(chan struct{}),
	}
}

// Start 启动后台 worker
func (d *Dispatcher) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

func pendingKey(n models.Notification) string {
	return fmt.Sprintf("%s|%d|%s", n.Type, n.CommentID, n.Recipient)
}

// Notify 将通知加入发送队列（非阻塞）
// 同一评论发给同一收件人的同类通知在发送前只排队一次
func (d *Dispatcher) Notify(n models.Notification) {
	key := pendingKey(n)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		log.Printf("[mail] dispatcher closed, dropping %s notification for comment %d", n.Type, n.CommentID)
		return
	}
	if d.pending[key] {
		return
	}

	select {
	case d.queue <- n:
		d.pending[key] = true
	default:
		log.Printf("[mail] queue full, dropping %s notification for comment %d", n.Type, n.CommentID)
	}
}

// Close stops accepting notifications and waits for the queue to drain or ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.stopOnce.Do(func() { close(d.stop) })
		return ctx.Err()
	}
}

// worker 后台处理队列中的通知
func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for n := range d.queue {
		d.deliver(n)

		d.mu.Lock()
		delete(d.pending, pendingKey(n))
		d.mu.Unlock()
	}
}

func (d *Dispatcher) deliver(n models.Notification) {
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		err := d.send(n)
		if err == nil {
			return
		}
		log.Printf("[mail] attempt %d/%d for comment %d failed: %v", attempt, d.maxAttempts, n.CommentID, err)
		if attempt == d.maxAttempts {
			break
		}
		select {
		case <-time.After(d.retryDelay * time.Duration(attempt)):
		case <-d.stop:
			return
		}
	}
	log.Printf("[mail] giving up on %s notification for comment %d", n.Type, n.CommentID)
}

func (d *Dispatcher) send(n models.Notification) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if ns, ok := d.mailer.(notificationSender); ok {
		return ns.SendNotification(ctx, n)
	}
	return d.mailer.Send(ctx, n.Recipient, n.Subject, n.BodyText, n.BodyHTML)
}
