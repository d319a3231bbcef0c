package printer

import (
	"context"
	"fmt"
	"sync"
)

// DefaultChunkSize keeps each write under the MTU of common BLE printers.
const DefaultChunkSize = 100

// Characteristic is a writable GATT characteristic on a wireless printer.
type Characteristic interface {
	WriteValue(ctx context.Context, chunk []byte) error
	Disconnect() error
}

// CharacteristicConnector connects to a wireless printer through Dial and
// splits every payload into ChunkSize writes.
type CharacteristicConnector struct {
	Label     string
	Dial      func(ctx context.Context) (Characteristic, error)
	ChunkSize int
}

func (c CharacteristicConnector) Connect(ctx context.Context) (Transport, error) {
	if c.Dial == nil {
		return nil, fmt.Errorf("wireless printer %q has no dialer", c.Label)
	}
	ch, err := c.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect wireless printer %q: %w", c.Label, err)
	}
	size := c.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &characteristicTransport{ch: ch, label: c.Label, chunkSize: size}, nil
}

type characteristicTransport struct {
	mu        sync.Mutex
	ch        Characteristic
	label     string
	chunkSize int
	closed    bool
}

func (t *characteristicTransport) Name() string { return "ble:" + t.label }

func (t *characteristicTransport) Write(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("%w: %w", ErrTransportWriteFailure, ErrTransportClosed)
	}
	for start := 0; start < len(payload); start += t.chunkSize {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrTransportWriteFailure, err)
		}
		end := min(start+t.chunkSize, len(payload))
		if err := t.ch.WriteValue(ctx, payload[start:end]); err != nil {
			return fmt.Errorf("%w: chunk at %d: %w", ErrTransportWriteFailure, start, err)
		}
	}
	return nil
}

func (t *characteristicTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.ch.Disconnect()
}
