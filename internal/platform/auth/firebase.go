package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// NewFirebaseVerifier returns the Admin SDK auth client for projectID. The client satisfies
// TokenVerifier; the Authenticator bounds each verification with its own timeout.
func NewFirebaseVerifier(ctx context.Context, projectID string, opts ...option.ClientOption) (*firebaseauth.Client, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errors.New("firebase project id is required")
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}
	return client, nil
}

var _ TokenVerifier = (*firebaseauth.Client)(nil)
