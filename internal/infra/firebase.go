// README: Firebase Admin SDK initialisation, ID-token verifier and Cloud Messaging client.
package infra

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// Token holds the verified caller identity used by downstream middleware.
type Token struct {
	UID    string
	Claims map[string]interface{}
}

// TokenVerifier verifies a raw bearer token string and returns token data.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*Token, error)
}

// NewFirebaseApp creates the Admin SDK app shared by the verifier and messaging client.
// If credentialsFile is non-empty it is used as the service-account JSON path;
// otherwise application-default credentials / GOOGLE_APPLICATION_CREDENTIALS are used.
func NewFirebaseApp(ctx context.Context, projectID, credentialsFile string) (*firebase.App, error) {
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}
	return app, nil
}

type firebaseVerifier struct {
	client *auth.Client
}

func NewFirebaseVerifier(ctx context.Context, app *firebase.App) (TokenVerifier, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Auth: %w", err)
	}
	return &firebaseVerifier{client: client}, nil
}

func (v *firebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*Token, error) {
	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, err
	}
	return &Token{UID: token.UID, Claims: token.Claims}, nil
}

func NewMessaging(ctx context.Context, app *firebase.App) (*messaging.Client, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Messaging: %w", err)
	}
	return client, nil
}
