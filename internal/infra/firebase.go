// README: Firebase Admin SDK initialisation for RTDB and FCM.
package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// Firebase bundles the clients built from one Admin SDK app.
type Firebase struct {
	App       *firebase.App
	DB        *db.Client
	Messaging *messaging.Client
}

// NewFirebase initialises the Admin SDK. If credentialsFile is non-empty it is
// used as the service-account JSON path; otherwise application-default
// credentials / GOOGLE_APPLICATION_CREDENTIALS are used. A missing projectID
// is read from the credentials file.
func NewFirebase(ctx context.Context, databaseURL, projectID, credentialsFile string) (*Firebase, error) {
	if databaseURL == "" {
		return nil, errors.New("firebase database URL is empty")
	}
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
		if projectID == "" {
			id, err := parseProjectID(credentialsFile)
			if err != nil {
				return nil, fmt.Errorf("reading credentials file: %w", err)
			}
			projectID = id
		}
	}

	conf := &firebase.Config{DatabaseURL: databaseURL, ProjectID: projectID}
	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase app: %w", err)
	}
	dbClient, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase RTDB client: %w", err)
	}
	msgClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase messaging client: %w", err)
	}
	return &Firebase{App: app, DB: dbClient, Messaging: msgClient}, nil
}

// parseProjectID reads the service-account JSON and extracts the project_id.
func parseProjectID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	var sa struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(data, &sa); err != nil {
		return "", fmt.Errorf("parsing %s: %w", path, err)
	}
	if sa.ProjectID == "" {
		return "", fmt.Errorf("project_id missing in %s", path)
	}
	return sa.ProjectID, nil
}
