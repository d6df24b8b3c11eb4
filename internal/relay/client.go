package relay

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chat_relay/internal/domain"
	"chat_relay/pkg/logger"
)

var (
	errSendBufferFull = errors.New("send buffer full")
	errClientClosed   = errors.New("client closed")
)

// Client - websocket-соединение с отдельной write-горутиной.
// Send не блокируется: при переполненном буфере (получатель в
// полуразорванном состоянии) событие отбрасывается, рассылка
// по комнате продолжается.
type Client struct {
	conn       *websocket.Conn
	send       chan []byte
	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
	log        logger.Logger

	mu     sync.Mutex
	closed bool
}

func NewClient(conn *websocket.Conn, bufferSize int, writeWait, pongWait time.Duration, log logger.Logger) *Client {
	return &Client{
		conn:       conn,
		send:       make(chan []byte, bufferSize),
		writeWait:  writeWait,
		pongWait:   pongWait,
		pingPeriod: pongWait * 9 / 10,
		log:        log,
	}
}

func (c *Client) Send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(domain.Envelope{Event: event, Data: payload})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}

	select {
	case c.send <- frame:
		return nil
	default:
		return errSendBufferFull
	}
}

// WritePump пишет исходящие кадры и пинги; завершается при закрытии
// канала или ошибке записи
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump читает входящие конверты и передает их handle;
// возвращается при разрыве соединения
func (c *Client) ReadPump(handle func(domain.Envelope)) {
	defer c.conn.Close()

	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("Unexpected socket close", "error", err)
			}
			return
		}

		var env domain.Envelope
		if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
			c.log.Debug("Dropping malformed frame", "error", err)
			continue
		}
		handle(env)
	}
}

// Close завершает write pump; повторный вызов безопасен
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
