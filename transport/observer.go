package transport

import "context"

// Observer is notified after each completed exchange. It receives a copy of
// the response, so it cannot alter what the caller gets back.
type Observer func(ctx context.Context, raw RawResponse)

// Observers chains observers in order. Nil entries are skipped.
func Observers(observers ...Observer) Observer {
	var chain []Observer
	for _, o := range observers {
		if o != nil {
			chain = append(chain, o)
		}
	}
	if len(chain) == 0 {
		return nil
	}
	return func(ctx context.Context, raw RawResponse) {
		for _, o := range chain {
			o(ctx, raw.Copy())
		}
	}
}

// Notify calls o with a copy of raw. A nil Observer does nothing.
func (o Observer) Notify(ctx context.Context, raw *RawResponse) {
	if o == nil || raw == nil {
		return
	}
	o(ctx, raw.Copy())
}
