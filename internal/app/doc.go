// Package app wires the license daemon together and manages its lifecycle.
//
// # Initialization Flow
//
//	1. Load configuration from .env, environment and an optional YAML file
//	2. Initialize logging and OpenTelemetry
//	3. Resolve the machine fingerprint (degraded when no hardware ID exists)
//	4. Derive the storage key and open the encrypted lease store
//	5. Build the authority client and the license manager
//	6. Bridge manager status changes to the license gate and the websocket hub
//	7. Set up HTTP handlers and middleware
//
// BuildLicenseStack runs steps 3 to 5 on its own so command line tools can
// share the exact wiring of the daemon.
//
// # Usage
//
//	a, err := app.NewApplication()
//	if err != nil {
//	    return err
//	}
//	return a.Run(ctx)
//
// # Graceful Shutdown
//
// Run stops on context cancellation, SIGINT or SIGTERM. In-flight requests
// get Server.ShutdownTimeout to finish, a renewal still in flight is
// abandoned, and telemetry is flushed before the storage backend closes.
//
// The app does not call os.Exit; errors are returned to main.
package app
