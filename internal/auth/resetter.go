package auth

import (
	"context"

	"go.uber.org/zap"
)

// LogResetter is a PasswordResetter that records the request instead of
// sending mail. Deployments wire a real provider here.
type LogResetter struct {
	Logger *zap.SugaredLogger
}

func (l LogResetter) SendPasswordReset(_ context.Context, email string) error {
	l.Logger.Infof("password reset requested for %s", email)
	return nil
}
