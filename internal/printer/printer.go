package printer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
)

var (
	ErrTransportWriteFailure = errors.New("printer write failed")
	ErrTransportClosed       = errors.New("printer transport closed")
)

// Transport sends raw bytes to a connected printer.
type Transport interface {
	Write(ctx context.Context, payload []byte) error
	Close() error
	Name() string
}

// Connector establishes a Transport.
type Connector interface {
	Connect(ctx context.Context) (Transport, error)
}

// DeviceConnector opens a printer exposed as a device node, such as the
// usblp driver's /dev/usb/lp0 which forwards writes to the bulk OUT
// endpoint. With Append it can also target a plain file.
type DeviceConnector struct {
	Path   string
	Append bool
}

func (c DeviceConnector) Connect(ctx context.Context) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	flags := os.O_WRONLY
	if c.Append {
		flags |= os.O_CREATE | os.O_APPEND
	}
	f, err := os.OpenFile(c.Path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open printer %s: %w", c.Path, err)
	}
	return &deviceTransport{file: f, path: c.Path}, nil
}

type deviceTransport struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	closed bool
}

func (t *deviceTransport) Name() string { return "usb:" + t.path }

func (t *deviceTransport) Write(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("%w: %w", ErrTransportWriteFailure, ErrTransportClosed)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrTransportWriteFailure, err)
	}
	if _, err := t.file.Write(payload); err != nil {
		return fmt.Errorf("%w: %w", ErrTransportWriteFailure, err)
	}
	return nil
}

func (t *deviceTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.file.Close()
}
