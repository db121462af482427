package state

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/jamyx/config"
)

// Category is a kind of change a client can subscribe to.
type Category int

const (
	OutputVolumeChanged Category = iota
	InputVolumeChanged
	OutputBalanceChanged
	InputBalanceChanged
	OutputConnectionChanged
	InputConnectionChanged
)

var categoryNames = [...]string{
	OutputVolumeChanged:     "output-volume-changed",
	InputVolumeChanged:      "input-volume-changed",
	OutputBalanceChanged:    "output-balance-changed",
	InputBalanceChanged:     "input-balance-changed",
	OutputConnectionChanged: "output-connection-changed",
	InputConnectionChanged:  "input-connection-changed",
}

func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return fmt.Sprintf("category(%d)", int(c))
	}
	return categoryNames[c]
}

// ErrUnknownCategory indicates an unrecognized subscription kind.
var ErrUnknownCategory = errors.New("unknown category")

// ParseCategory maps a property name (volume|vol|v, balance|bal|b,
// connections|cons|con|c) and a direction to a Category.
func ParseCategory(kind string, dir config.Direction) (Category, error) {
	in := dir == config.Input
	switch strings.ToLower(kind) {
	case "volume", "vol", "v":
		if in {
			return InputVolumeChanged, nil
		}
		return OutputVolumeChanged, nil
	case "balance", "bal", "b":
		if in {
			return InputBalanceChanged, nil
		}
		return OutputBalanceChanged, nil
	case "connections", "cons", "con", "c":
		if in {
			return InputConnectionChanged, nil
		}
		return OutputConnectionChanged, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCategory, kind)
}

// Stream is the writable end of a subscriber connection.
type Stream interface {
	io.Writer
	io.Closer
}

// Handle is one pending subscription.
type Handle struct {
	ID     string
	Stream Stream
}

type hookKey struct {
	category Category
	name     string
}

// Hooks is the one-shot notification registry.
type Hooks struct {
	mu      sync.Mutex
	pending map[hookKey][]*Handle
	total   int
}

// NewHooks creates an empty registry.
func NewHooks() *Hooks {
	return &Hooks{pending: make(map[hookKey][]*Handle)}
}

// Subscribe registers stream for the next change of (category, name).
func (h *Hooks) Subscribe(category Category, name string, stream Stream) *Handle {
	handle := &Handle{
		ID:     uuid.New().String(),
		Stream: stream,
	}

	h.mu.Lock()
	key := hookKey{category, name}
	h.pending[key] = append(h.pending[key], handle)
	h.total++
	h.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "Hooks.Subscribe",
		"category":   category.String(),
		"channel":    name,
		"subscriber": handle.ID,
	}).Debug("Registered subscription")

	return handle
}

// Fire writes payload to every subscriber of (category, name) in registration
// order, closes their streams and removes them. It returns the number of
// subscribers notified. Writes happen outside the registry lock.
func (h *Hooks) Fire(category Category, name string, payload []byte) int {
	h.mu.Lock()
	key := hookKey{category, name}
	handles := h.pending[key]
	delete(h.pending, key)
	h.total -= len(handles)
	h.mu.Unlock()

	for _, handle := range handles {
		if _, err := handle.Stream.Write(payload); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "Hooks.Fire",
				"category":   category.String(),
				"channel":    name,
				"subscriber": handle.ID,
				"error":      err.Error(),
			}).Warn("Failed to notify subscriber")
		}
		_ = handle.Stream.Close()
	}
	return len(handles)
}

// Pending returns the number of subscribers waiting on (category, name).
func (h *Hooks) Pending(category Category, name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending[hookKey{category, name}])
}

// Total returns the number of pending subscriptions across all keys.
func (h *Hooks) Total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}
