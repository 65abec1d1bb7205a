package rabbitmq

import (
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"
)

// ConnectionPool hands out channels on a fixed set of connections. Dead
// connections are redialed on checkout.
type ConnectionPool struct {
	url         string
	connections chan *amqp.Connection
	mu          sync.RWMutex
	closed      bool
}

type Client struct {
	pool *ConnectionPool
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewConnectionPool(url string, size int) (*ConnectionPool, error) {
	pool := &ConnectionPool{
		url:         url,
		connections: make(chan *amqp.Connection, size),
	}
	for i := 0; i < size; i++ {
		conn, err := amqp.Dial(url)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create initial RabbitMQ connection: %w", err)
		}
		pool.connections <- conn
	}
	return pool, nil
}

func (p *ConnectionPool) get() (*amqp.Connection, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("connection pool is closed")
	}

	select {
	case conn := <-p.connections:
		if conn.IsClosed() {
			fresh, err := amqp.Dial(p.url)
			if err != nil {
				return nil, fmt.Errorf("failed to redial RabbitMQ: %w", err)
			}
			return fresh, nil
		}
		return conn, nil
	case <-time.After(5 * time.Second):
		return nil, fmt.Errorf("timeout waiting for connection from pool")
	}
}

func (p *ConnectionPool) put(conn *amqp.Connection) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed || conn.IsClosed() {
		conn.Close()
		return
	}
	select {
	case p.connections <- conn:
	default:
		conn.Close()
	}
}

func (p *ConnectionPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.connections)
	for conn := range p.connections {
		conn.Close()
	}
}

func (p *ConnectionPool) NewClient() (ClientInterface, error) {
	conn, err := p.get()
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		p.put(conn)
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return &Client{pool: p, conn: conn, ch: ch}, nil
}

func (c *Client) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.pool.put(c.conn)
	}
}

func (c *Client) Publish(exchange, routingKey string, mandatory, immediate bool, msg amqp.Publishing) error {
	return c.ch.Publish(exchange, routingKey, mandatory, immediate, msg)
}

func (c *Client) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	return c.ch.QueueDeclare(name, durable, autoDelete, exclusive, noWait, args)
}

func (c *Client) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return c.ch.ExchangeDeclare(name, kind, durable, autoDelete, internal, noWait, args)
}

func (c *Client) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	return c.ch.QueueBind(name, key, exchange, noWait, args)
}
