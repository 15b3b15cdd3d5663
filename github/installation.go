package github

import "context"

// The installation id is resolved once per webhook and passed explicitly to
// every call that needs credentials. These helpers carry it across the
// detached background context used for review work; nothing stores it
// globally, so concurrent requests for different installations cannot
// observe each other's id.

type installationKey struct{}

// WithInstallation returns a context carrying the installation id.
func WithInstallation(ctx context.Context, installationID int64) context.Context {
	return context.WithValue(ctx, installationKey{}, installationID)
}

// InstallationFromContext returns the installation id attached to the
// context, or false if none was set.
func InstallationFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(installationKey{}).(int64)
	return id, ok
}
