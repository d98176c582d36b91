// README: Realtime Database mirror for order locations.
package notify

import (
	"context"

	"firebase.google.com/go/v4/db"
)

type rtdbMirror struct {
	client *db.Client
}

func (m rtdbMirror) Set(ctx context.Context, path string, v any) error {
	return m.client.NewRef(path).Set(ctx, v)
}
