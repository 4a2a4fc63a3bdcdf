package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ai-influencer/pkg/config"
	"ai-influencer/pkg/logger"
	"ai-influencer/pkg/retry"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	PublishQueueName = "publish_tasks"
	PublishExchange  = "publisher"
	PublishRouting   = "publish"
)

type TaskType string

const (
	TaskPublishPlatform TaskType = "publish_platform"
	TaskPublishAll      TaskType = "publish_all"
	TaskProcessQueue    TaskType = "process_queue"
	TaskRetryFailed     TaskType = "retry_failed"
	TaskReconcileStale  TaskType = "reconcile_stale"
)

// Task is the message body shared by every worker.
type Task struct {
	Type      TaskType  `json:"type"`
	ContentID string    `json:"content_id,omitempty"`
	Platform  string    `json:"platform,omitempty"`
	Priority  int       `json:"priority,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (t Task) Validate() error {
	switch t.Type {
	case TaskPublishPlatform:
		if t.ContentID == "" || t.Platform == "" {
			return fmt.Errorf("%s task requires content_id and platform", t.Type)
		}
	case TaskPublishAll:
		if t.ContentID == "" {
			return fmt.Errorf("%s task requires content_id", t.Type)
		}
	case TaskProcessQueue, TaskRetryFailed, TaskReconcileStale:
	default:
		return fmt.Errorf("unknown task type: %q", t.Type)
	}
	return nil
}

// ErrPermanent marks handler errors that must not be redelivered.
var ErrPermanent = errors.New("permanent task failure")

// Handler processes one task. Returning an error wrapping ErrPermanent drops
// the message; any other error requeues it.
type Handler func(ctx context.Context, task Task) error

// Publisher is what producers need from the queue.
type Publisher interface {
	PublishTask(ctx context.Context, task Task) error
}

type Client struct {
	conn         *amqp.Connection
	channel      *amqp.Channel
	logger       *logger.Logger
	requeueDelay time.Duration
}

func NewRabbitMQClient(cfg *config.Config, log *logger.Logger) (*Client, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%s/",
		cfg.RabbitMQUser,
		cfg.RabbitMQPassword,
		cfg.RabbitMQHost,
		cfg.RabbitMQPort,
	)

	conn, err := retry.Get(context.Background(), retry.Config{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: 10 * time.Second}, func() (*amqp.Connection, error) {
		return amqp.Dial(url)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		PublishExchange, // name
		"direct",        // type
		true,            // durable
		false,           // auto-deleted
		false,           // internal
		false,           // no-wait
		nil,             // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	_, err = channel.QueueDeclare(
		PublishQueueName, // name
		true,             // durable
		false,            // delete when unused
		false,            // exclusive
		false,            // no-wait
		amqp.Table{
			"x-max-priority": 10,
		},
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	err = channel.QueueBind(
		PublishQueueName, // queue name
		PublishRouting,   // routing key
		PublishExchange,  // exchange
		false,
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	// Each worker runs one publish at a time unless configured otherwise.
	prefetch := cfg.WorkerPrefetch
	if prefetch < 1 {
		prefetch = 1
	}
	if err := channel.Qos(prefetch, 0, false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	log.Info("Connected to RabbitMQ at %s:%s", cfg.RabbitMQHost, cfg.RabbitMQPort)

	return &Client{
		conn:         conn,
		channel:      channel,
		logger:       log,
		requeueDelay: cfg.WorkerRequeueDelay,
	}, nil
}

func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// PublishTask publishes a task to the queue with priority
func (c *Client) PublishTask(ctx context.Context, task Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	taskJSON, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	err = c.channel.PublishWithContext(
		ctx,
		PublishExchange, // exchange
		PublishRouting,  // routing key
		false,           // mandatory
		false,           // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         taskJSON,
			Priority:     clampPriority(task.Priority),
			DeliveryMode: amqp.Persistent,
			Timestamp:    task.CreatedAt,
		},
	)
	if err != nil {
		c.logger.Error("[RABBITMQ] Failed to publish %s task: %v", task.Type, err)
		return fmt.Errorf("failed to publish message: %w", err)
	}

	c.logger.Debug("[RABBITMQ] Published %s task content_id=%s platform=%s", task.Type, task.ContentID, task.Platform)
	return nil
}

// ConsumeTasks starts delivering tasks to handler until ctx is cancelled.
func (c *Client) ConsumeTasks(ctx context.Context, handler Handler) error {
	msgs, err := c.channel.Consume(
		PublishQueueName, // queue
		"",               // consumer
		false,            // auto-ack (we'll manually ack after processing)
		false,            // exclusive
		false,            // no-local
		false,            // no-wait
		nil,              // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("[RABBITMQ] Started consuming from queue: %s", PublishQueueName)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn("[RABBITMQ] Delivery channel closed")
					return
				}
				handleDelivery(ctx, msg, handler, c.requeueDelay, c.logger)
			}
		}
	}()

	return nil
}

// handleDelivery acks, drops or requeues one message. Requeued messages are
// held for requeueDelay first so a failing task cannot spin the consumer.
func handleDelivery(ctx context.Context, msg amqp.Delivery, handler Handler, requeueDelay time.Duration, log *logger.Logger) {
	var task Task
	if err := json.Unmarshal(msg.Body, &task); err != nil {
		log.Error("[RABBITMQ] Failed to unmarshal task: %v, body=%s", err, string(msg.Body))
		msg.Nack(false, false)
		return
	}
	if err := task.Validate(); err != nil {
		log.Error("[RABBITMQ] Dropping invalid task: %v", err)
		msg.Nack(false, false)
		return
	}

	if err := handler(ctx, task); err != nil {
		requeue := !errors.Is(err, ErrPermanent)
		log.Error("[RABBITMQ] Handler failed for %s task content_id=%s: %v (requeue=%t)", task.Type, task.ContentID, err, requeue)
		if requeue {
			backoff(ctx, requeueDelay)
		}
		msg.Nack(false, requeue)
		return
	}

	msg.Ack(false)
}

// backoff waits for d or until ctx ends. On shutdown the message is still
// nacked with requeue so another worker picks it up.
func backoff(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// GetQueueLength returns the number of messages in the queue
func (c *Client) GetQueueLength() (int, error) {
	queue, err := c.channel.QueueInspect(PublishQueueName)
	if err != nil {
		return 0, err
	}
	return queue.Messages, nil
}

func clampPriority(p int) uint8 {
	if p < 0 {
		return 0
	}
	if p > 10 {
		return 10
	}
	return uint8(p)
}
