// Package api serves the devicelink HTTP surface: the REST hooks under
// /api/v1, the Prometheus endpoint and both WebSocket gateways, all on one
// chi router.
//
//	srv, err := api.New(deps)
//	if err != nil {
//	    return err
//	}
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//	defer srv.Close()
//
// REST routes under /api/v1 (except /health) require a bearer token when
// Deps.Auth.Required is set. The gateways authenticate on their own.
package api
