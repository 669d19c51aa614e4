package services

import (
	"context"
	"errors"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

var ErrAdminAuthDisabled = errors.New("admin auth not configured")

// InitFirebase builds the admin auth client from a service-account file.
// An empty path disables admin auth.
func InitFirebase(ctx context.Context, credPath string) (*auth.Client, error) {
	if credPath == "" {
		return nil, ErrAdminAuthDisabled
	}

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credPath))
	if err != nil {
		return nil, err
	}
	return app.Auth(ctx)
}
