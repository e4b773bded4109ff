package transport

import "context"

// StaticHeaders returns an Authenticator that sets fixed headers, replacing
// any with the same name.
func StaticHeaders(headers map[string]string) Authenticator {
	return func(_ context.Context, d *Descriptor) (*Descriptor, error) {
		out := d.Clone()
		if out.Headers == nil {
			out.Headers = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			out.Headers[k] = v
		}
		return out, nil
	}
}

// ChainAuthenticators runs authenticators in order, each receiving the
// previous one's descriptor.
func ChainAuthenticators(auths ...Authenticator) Authenticator {
	return func(ctx context.Context, d *Descriptor) (*Descriptor, error) {
		var err error
		for _, auth := range auths {
			if auth == nil {
				continue
			}
			if d, err = auth(ctx, d); err != nil {
				return nil, err
			}
		}
		return d, nil
	}
}
