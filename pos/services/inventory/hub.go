package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	subscriberBuffer = 16
	writeTimeout     = 5 * time.Second
)

var (
	errSubscriberClosed = errors.New("subscriber closed")
	errSubscriberBusy   = errors.New("subscriber buffer full")
	errHubStopped       = errors.New("hub stopped")
)

// subscriber é um canal de entrega aberto. deliver nunca bloqueia.
type subscriber interface {
	deliver(event ChangeEvent, frame []byte) error
	close()
}

// --- Comandos do ator ---

type hubCmd interface{ hubCmd() }

type cmdRegister struct {
	sub   subscriber
	reply chan error
}

func (cmdRegister) hubCmd() {}

type cmdBroadcast struct {
	event ChangeEvent
	frame []byte
}

func (cmdBroadcast) hubCmd() {}

type cmdCount struct {
	reply chan int
}

func (cmdCount) hubCmd() {}

type cmdStop struct{}

func (cmdStop) hubCmd() {}

// --- Assinante WebSocket ---

type wsSubscriber struct {
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once
}

func newWSSubscriber(conn *websocket.Conn) *wsSubscriber {
	ws := &wsSubscriber{
		conn:   conn,
		sendCh: make(chan []byte, subscriberBuffer),
		done:   make(chan struct{}),
	}
	go ws.writeLoop()
	go ws.readLoop()
	return ws
}

func (ws *wsSubscriber) writeLoop() {
	for {
		select {
		case frame := <-ws.sendCh:
			_ = ws.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				ws.closed.Store(true)
				return
			}
		case <-ws.done:
			return
		}
	}
}

// readLoop só detecta a desconexão; o Hub remove o assinante no próximo envio
func (ws *wsSubscriber) readLoop() {
	for {
		if _, _, err := ws.conn.ReadMessage(); err != nil {
			ws.closed.Store(true)
			return
		}
	}
}

func (ws *wsSubscriber) deliver(_ ChangeEvent, frame []byte) error {
	if ws.closed.Load() {
		return errSubscriberClosed
	}
	select {
	case ws.sendCh <- frame:
		return nil
	default:
		return errSubscriberBusy
	}
}

func (ws *wsSubscriber) close() {
	ws.once.Do(func() {
		ws.closed.Store(true)
		close(ws.done)
		_ = ws.conn.Close()
	})
}

// --- Assinante em processo ---

// Subscription entrega os ChangeEvents por canal Go (usado pelo stream SSE)
type Subscription struct {
	C      <-chan ChangeEvent
	ch     chan ChangeEvent
	closed atomic.Bool
	once   sync.Once
}

// Unsubscribe marca a assinatura como encerrada; o Hub a remove no próximo envio
func (s *Subscription) Unsubscribe() {
	s.closed.Store(true)
}

func (s *Subscription) deliver(event ChangeEvent, _ []byte) error {
	if s.closed.Load() {
		return errSubscriberClosed
	}
	select {
	case s.ch <- event:
		return nil
	default:
		return errSubscriberBusy
	}
}

func (s *Subscription) close() {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
	})
}

// --- Hub ---

// Hub entrega cada ChangeEvent a todos os assinantes abertos no momento do envio.
// O conjunto de assinantes pertence exclusivamente à goroutine run.
type Hub struct {
	cmdCh       chan hubCmd
	done        chan struct{}
	subscribers map[subscriber]struct{}
	metrics     *Metrics
}

// NewHub cria o Hub e inicia o loop de entrega
func NewHub(metrics *Metrics) *Hub {
	hub := &Hub{
		cmdCh:       make(chan hubCmd, 256),
		done:        make(chan struct{}),
		subscribers: make(map[subscriber]struct{}),
		metrics:     metrics,
	}
	go hub.run()
	return hub
}

func (h *Hub) run() {
	defer close(h.done)
	for cmd := range h.cmdCh {
		switch c := cmd.(type) {
		case cmdRegister:
			h.subscribers[c.sub] = struct{}{}
			h.metrics.SubscribersChanged(context.Background(), 1)
			log.Printf("🔌 [HUB] Subscriber connected (total: %d)", len(h.subscribers))
			c.reply <- nil
		case cmdBroadcast:
			h.handleBroadcast(c)
		case cmdCount:
			c.reply <- len(h.subscribers)
		case cmdStop:
			h.handleStop()
			return
		}
	}
}

func (h *Hub) handleBroadcast(c cmdBroadcast) {
	for sub := range h.subscribers {
		err := sub.deliver(c.event, c.frame)
		switch {
		case err == nil:
		case errors.Is(err, errSubscriberClosed):
			sub.close()
			delete(h.subscribers, sub)
			h.metrics.SubscribersChanged(context.Background(), -1)
			log.Printf("🔌 [HUB] Pruned closed subscriber (remaining: %d)", len(h.subscribers))
		case errors.Is(err, errSubscriberBusy):
			log.Printf("⚠️ [HUB] Subscriber is slow, dropping %s frame", c.event.Type)
		}
	}
}

func (h *Hub) handleStop() {
	for sub := range h.subscribers {
		sub.close()
		delete(h.subscribers, sub)
		h.metrics.SubscribersChanged(context.Background(), -1)
	}
	log.Println("ℹ️ [HUB] Stopped")
}

func (h *Hub) send(cmd hubCmd) bool {
	select {
	case h.cmdCh <- cmd:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) register(sub subscriber) error {
	reply := make(chan error, 1)
	if !h.send(cmdRegister{sub: sub, reply: reply}) {
		sub.close()
		return errHubStopped
	}
	select {
	case err := <-reply:
		return err
	case <-h.done:
		sub.close()
		return errHubStopped
	}
}

// Register adiciona uma conexão WebSocket ao conjunto de assinantes
func (h *Hub) Register(conn *websocket.Conn) error {
	return h.register(newWSSubscriber(conn))
}

// Subscribe cria uma assinatura em processo com o buffer informado
func (h *Hub) Subscribe(buffer int) (*Subscription, error) {
	if buffer <= 0 {
		buffer = subscriberBuffer
	}
	ch := make(chan ChangeEvent, buffer)
	sub := &Subscription{C: ch, ch: ch}
	if err := h.register(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Publish implementa Publisher. Entrega no máximo uma vez, sem fila nem replay.
func (h *Hub) Publish(event ChangeEvent) {
	frame, err := json.Marshal(event)
	if err != nil {
		log.Printf("❌ [HUB] Failed to marshal %s frame: %v", event.Type, err)
		return
	}
	h.send(cmdBroadcast{event: event, frame: frame})
}

// SubscriberCount retorna o número de assinantes registrados (incluindo os ainda não podados)
func (h *Hub) SubscriberCount() int {
	reply := make(chan int, 1)
	if !h.send(cmdCount{reply: reply}) {
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-h.done:
		return 0
	}
}

// Stop fecha todos os assinantes e encerra o loop
func (h *Hub) Stop() {
	if h.send(cmdStop{}) {
		<-h.done
	}
}
