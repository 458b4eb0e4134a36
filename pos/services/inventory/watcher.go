package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// WatchMode seleciona a estratégia de detecção de mudanças
type WatchMode string

const (
	WatchModeAuto         WatchMode = "auto"
	WatchModePolling      WatchMode = "polling"
	WatchModeSubscription WatchMode = "subscription"
)

// WatcherState é o estado do ciclo de vida de um Watcher
type WatcherState int32

const (
	WatcherIdle WatcherState = iota
	WatcherWatching
	WatcherStopped
)

func (s WatcherState) String() string {
	switch s {
	case WatcherIdle:
		return "idle"
	case WatcherWatching:
		return "watching"
	case WatcherStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Publisher recebe os ChangeEvents emitidos
type Publisher interface {
	Publish(event ChangeEvent)
}

// Watcher detecta mutações nas coleções observadas e as publica.
// Start bloqueia até ctx terminar.
type Watcher interface {
	Start(ctx context.Context) error
	State() WatcherState
}

// Document é um documento serializado de uma coleção observada
type Document struct {
	ID   string
	Body json.RawMessage
}

// Collection descreve uma coleção observada e como ler seu conteúdo completo
type Collection struct {
	Name     string
	Event    EventType
	Snapshot func(ctx context.Context) ([]Document, error)
}

// ProductsCollection observa o catálogo de produtos
func ProductsCollection(ledger Ledger) Collection {
	return Collection{
		Name:  CollectionProducts,
		Event: EventProductsUpdate,
		Snapshot: func(ctx context.Context) ([]Document, error) {
			products, err := ledger.ListProducts(ctx, ProductFilter{})
			if err != nil {
				return nil, err
			}
			docs := make([]Document, 0, len(products))
			for _, p := range products {
				body, err := json.Marshal(p)
				if err != nil {
					return nil, fmt.Errorf("encode product %s: %w", p.ID, err)
				}
				docs = append(docs, Document{ID: p.ID, Body: body})
			}
			return docs, nil
		},
	}
}

// SalesCollection observa as vendas
func SalesCollection(ledger Ledger) Collection {
	return Collection{
		Name:  CollectionSales,
		Event: EventSalesUpdate,
		Snapshot: func(ctx context.Context) ([]Document, error) {
			sales, err := ledger.ListSales(ctx, SaleFilter{})
			if err != nil {
				return nil, err
			}
			docs := make([]Document, 0, len(sales))
			for _, s := range sales {
				body, err := json.Marshal(s)
				if err != nil {
					return nil, fmt.Errorf("encode sale %s: %w", s.ID, err)
				}
				docs = append(docs, Document{ID: s.ID, Body: body})
			}
			return docs, nil
		},
	}
}

// NewWatcher escolhe a estratégia. Em modo auto, prefere assinatura nativa
// quando o Ledger implementa ChangeFeed.
func NewWatcher(mode WatchMode, ledger Ledger, publisher Publisher, collections []Collection, clock clockwork.Clock, interval time.Duration, metrics *Metrics) (Watcher, error) {
	feed, hasFeed := ledger.(ChangeFeed)

	switch mode {
	case WatchModePolling:
		return NewPollingWatcher(collections, publisher, clock, interval, metrics), nil
	case WatchModeSubscription:
		if !hasFeed {
			return nil, errors.New("ledger does not support change notifications")
		}
		return NewSubscriptionWatcher(feed, collections, publisher, metrics), nil
	case WatchModeAuto:
		if hasFeed {
			return &FallbackWatcher{
				primary:  NewSubscriptionWatcher(feed, collections, publisher, metrics),
				fallback: NewPollingWatcher(collections, publisher, clock, interval, metrics),
			}, nil
		}
		return NewPollingWatcher(collections, publisher, clock, interval, metrics), nil
	default:
		return nil, fmt.Errorf("unknown watch mode %q", mode)
	}
}

// FallbackWatcher roda a assinatura e passa para polling se ela falhar
// (LISTEN recusado, feed fechado) antes de ctx terminar.
type FallbackWatcher struct {
	primary  Watcher
	fallback Watcher
	fellBack atomic.Bool
}

func (w *FallbackWatcher) State() WatcherState {
	if w.fellBack.Load() {
		return w.fallback.State()
	}
	return w.primary.State()
}

func (w *FallbackWatcher) Start(ctx context.Context) error {
	err := w.primary.Start(ctx)
	if err == nil || ctx.Err() != nil {
		return err
	}

	log.Printf("⚠️ [WATCHER] Subscription failed (%v), falling back to polling", err)
	w.fellBack.Store(true)
	return w.fallback.Start(ctx)
}

// --- Polling ---

type snapshot struct {
	data  json.RawMessage
	docs  map[string]json.RawMessage
	order []string
}

// PollingWatcher relê as coleções inteiras a cada intervalo e compara com o último snapshot.
// O primeiro ciclo sempre emite.
type PollingWatcher struct {
	collections []Collection
	publisher   Publisher
	clock       clockwork.Clock
	interval    time.Duration
	metrics     *Metrics
	state       atomic.Int32

	// acessado apenas pela goroutine de Start
	snapshots map[string]*snapshot
}

// NewPollingWatcher cria uma nova instância de PollingWatcher
func NewPollingWatcher(collections []Collection, publisher Publisher, clock clockwork.Clock, interval time.Duration, metrics *Metrics) *PollingWatcher {
	return &PollingWatcher{
		collections: collections,
		publisher:   publisher,
		clock:       clock,
		interval:    interval,
		metrics:     metrics,
		snapshots:   make(map[string]*snapshot),
	}
}

func (w *PollingWatcher) State() WatcherState {
	return WatcherState(w.state.Load())
}

func (w *PollingWatcher) Start(ctx context.Context) error {
	w.state.Store(int32(WatcherWatching))
	defer w.state.Store(int32(WatcherStopped))

	log.Printf("📡 [WATCHER] Polling %d collection(s) every %s", len(w.collections), w.interval)

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	w.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Println("ℹ️ [WATCHER] Polling stopped")
			return nil
		case <-ticker.Chan():
			w.poll(ctx)
		}
	}
}

// poll executa um ciclo: um ChangeEvent por coleção que mudou
func (w *PollingWatcher) poll(ctx context.Context) {
	for _, c := range w.collections {
		docs, err := c.Snapshot(ctx)
		if err != nil {
			log.Printf("❌ [WATCHER] Failed to read %s: %v", c.Name, err)
			continue
		}

		next, err := newSnapshot(docs)
		if err != nil {
			log.Printf("❌ [WATCHER] Failed to encode %s: %v", c.Name, err)
			continue
		}

		prev, seen := w.snapshots[c.Name]
		if seen && bytes.Equal(prev.data, next.data) {
			continue
		}
		w.snapshots[c.Name] = next

		event := ChangeEvent{Type: c.Event, Data: next.data}
		if seen {
			event.Changes = diffSnapshots(prev, next)
		}
		w.publisher.Publish(event)
		w.metrics.ChangeEmitted(ctx, c.Event)
	}
}

func newSnapshot(docs []Document) (*snapshot, error) {
	s := &snapshot{
		docs:  make(map[string]json.RawMessage, len(docs)),
		order: make([]string, 0, len(docs)),
	}
	bodies := make([]json.RawMessage, 0, len(docs))
	for _, d := range docs {
		s.docs[d.ID] = d.Body
		s.order = append(s.order, d.ID)
		bodies = append(bodies, d.Body)
	}
	data, err := json.Marshal(bodies)
	if err != nil {
		return nil, err
	}
	s.data = data
	return s, nil
}

// diffSnapshots calcula as mudanças por documento entre dois snapshots
func diffSnapshots(prev, next *snapshot) []DocumentChange {
	null := json.RawMessage("null")
	var changes []DocumentChange
	for _, id := range next.order {
		body := next.docs[id]
		old, ok := prev.docs[id]
		switch {
		case !ok:
			changes = append(changes, DocumentChange{OldVal: null, NewVal: body})
		case !bytes.Equal(old, body):
			changes = append(changes, DocumentChange{OldVal: old, NewVal: body})
		}
	}
	for _, id := range prev.order {
		if _, ok := next.docs[id]; !ok {
			changes = append(changes, DocumentChange{OldVal: prev.docs[id], NewVal: null})
		}
	}
	return changes
}

// --- Subscription ---

// SubscriptionWatcher assina o ChangeFeed do Ledger e emite um ChangeEvent por mutação
type SubscriptionWatcher struct {
	feed        ChangeFeed
	collections []Collection
	publisher   Publisher
	metrics     *Metrics
	state       atomic.Int32
}

// NewSubscriptionWatcher cria uma nova instância de SubscriptionWatcher
func NewSubscriptionWatcher(feed ChangeFeed, collections []Collection, publisher Publisher, metrics *Metrics) *SubscriptionWatcher {
	return &SubscriptionWatcher{
		feed:        feed,
		collections: collections,
		publisher:   publisher,
		metrics:     metrics,
	}
}

func (w *SubscriptionWatcher) State() WatcherState {
	return WatcherState(w.state.Load())
}

func (w *SubscriptionWatcher) Start(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	streams := make([]<-chan DocumentChange, len(w.collections))
	for i, c := range w.collections {
		stream, err := w.feed.Changes(ctx, c.Name)
		if err != nil {
			return fmt.Errorf("subscribe to %s: %w", c.Name, err)
		}
		streams[i] = stream
	}

	w.state.Store(int32(WatcherWatching))
	defer w.state.Store(int32(WatcherStopped))
	log.Printf("📡 [WATCHER] Subscribed to %d collection(s)", len(w.collections))

	var wg sync.WaitGroup
	for i, c := range w.collections {
		wg.Add(1)
		go func(c Collection, stream <-chan DocumentChange) {
			defer wg.Done()
			// um feed que fecha antes de ctx derruba os demais
			defer cancel()
			for change := range stream {
				w.publisher.Publish(ChangeEvent{Type: c.Event, Changes: []DocumentChange{change}})
				w.metrics.ChangeEmitted(ctx, c.Event)
			}
		}(c, streams[i])
	}
	wg.Wait()

	if parent.Err() == nil {
		return errors.New("change feed closed unexpectedly")
	}
	log.Println("ℹ️ [WATCHER] Subscription stopped")
	return nil
}
