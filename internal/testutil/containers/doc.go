// Package containers starts the external services alertcore talks to for
// integration tests, using testcontainers-go:
//
//   - MySQL 8.0 as the rule and alert datastore
//   - Eclipse Mosquitto as the event and alert broker
//   - ntfy as a notification target
//
// Every constructor returns settings ready to pass to the matching alertcore
// component, e.g. MySQLContainer.Settings for datastore.Open.
//
// Tests using this package carry the "integration" build tag:
//
//	//go:build integration
//
// and usually start one container per package in TestMain:
//
//	func TestMain(m *testing.M) {
//	    ctx := context.Background()
//	    db, err := containers.NewMySQLContainer(ctx, nil)
//	    if err != nil {
//	        panic(err)
//	    }
//	    code := m.Run()
//	    _ = db.Terminate(ctx)
//	    os.Exit(code)
//	}
package containers
