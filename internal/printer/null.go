package printer

import "context"

// NullBackend accepts every job without touching a spooler. It exists
// for headless deployments and smoke tests where no printer is
// attached.
type NullBackend struct{}

func NewNullBackend() *NullBackend {
	return &NullBackend{}
}

func (b *NullBackend) ListPrinters(ctx context.Context) ([]Info, error) {
	return []Info{}, nil
}

func (b *NullBackend) Print(ctx context.Context, req Request) error {
	return nil
}
