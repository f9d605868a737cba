package rtdb

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/db"
)

// FirebaseClient adapts a Firebase Realtime Database client.
type FirebaseClient struct {
	db *db.Client
}

func NewFirebaseClient(client *db.Client) *FirebaseClient {
	return &FirebaseClient{db: client}
}

func (c *FirebaseClient) Get(ctx context.Context, path string) (Record, error) {
	var rec Record
	if err := c.db.NewRef(path).Get(ctx, &rec); err != nil {
		return nil, fmt.Errorf("rtdb get %s: %w", path, err)
	}
	return rec, nil
}

func (c *FirebaseClient) Update(ctx context.Context, path string, fields Record) error {
	if err := c.db.NewRef(path).Update(ctx, map[string]interface{}(fields)); err != nil {
		return fmt.Errorf("rtdb update %s: %w", path, err)
	}
	return nil
}

func (c *FirebaseClient) Set(ctx context.Context, path string, rec Record) error {
	if err := c.db.NewRef(path).Set(ctx, map[string]interface{}(rec)); err != nil {
		return fmt.Errorf("rtdb set %s: %w", path, err)
	}
	return nil
}

func (c *FirebaseClient) Delete(ctx context.Context, path string) error {
	if err := c.db.NewRef(path).Delete(ctx); err != nil {
		return fmt.Errorf("rtdb delete %s: %w", path, err)
	}
	return nil
}

func (c *FirebaseClient) List(ctx context.Context, path string) (map[string]Record, error) {
	var data map[string]Record
	if err := c.db.NewRef(path).Get(ctx, &data); err != nil {
		return nil, fmt.Errorf("rtdb list %s: %w", path, err)
	}
	return data, nil
}

// QueryEqual uses an ordered child query so filtering happens server side.
// The node needs an ".indexOn" rule for child in the database rules.
func (c *FirebaseClient) QueryEqual(ctx context.Context, path, child, value string) (map[string]Record, error) {
	var data map[string]Record
	if err := c.db.NewRef(path).OrderByChild(child).EqualTo(value).Get(ctx, &data); err != nil {
		return nil, fmt.Errorf("rtdb query %s by %s: %w", path, child, err)
	}
	return data, nil
}

func (c *FirebaseClient) Transaction(ctx context.Context, path string, fn TxFunc) error {
	return c.db.NewRef(path).Transaction(ctx, func(node db.TransactionNode) (interface{}, error) {
		var current Record
		if err := node.Unmarshal(&current); err != nil {
			return nil, err
		}
		next, err := fn(current)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}(next), nil
	})
}

// Close is a no-op; the Firebase app owns the underlying HTTP client.
func (c *FirebaseClient) Close() error { return nil }
