// Package shadow implements the device shadow synchronisation core.
//
// A shadow is the cloud-held, reconciled view of a single device: the last
// state the device reported, the state an operator wants it to reach, a
// monotonic version counter, and the timestamp of the last mutation. The
// outstanding difference between desired and reported is the delta a device
// must apply to converge.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────┐
//	│                         Shadow Core                              │
//	│                                                                  │
//	│  ┌──────────────┐   ┌───────────────┐   ┌───────────────────┐    │
//	│  │   Service    │   │  Repository   │   │  State / Shadow   │    │
//	│  │ (service.go) │──▶│(repository.go)│──▶│ (state.go,        │    │
//	│  │              │   │               │   │  shadow.go)       │    │
//	│  │ • use cases  │   │ • memory      │   │ • immutable state │    │
//	│  │ • events     │   │ • sqlite CAS  │   │ • versioning      │    │
//	│  └──────────────┘   └───────────────┘   │ • delta           │    │
//	│         │                               └───────────────────┘    │
//	└─────────│────────────────────────────────────────────────────────┘
//	          │ change events
//	          ▼
//	 WebSocket fan-out (internal/api), MQTT bridge (internal/bridge),
//	 telemetry (internal/infrastructure/influxdb)
//
// # Key Types
//
//   - State: immutable, string-keyed snapshot of JSON-like values
//   - Shadow: reported + desired state pair with version and timestamp
//   - Repository: persistence contract (memory and SQLite implementations)
//   - Service: use-case facade that raises typed change events
//
// # Usage
//
//	repo := shadow.NewMemoryRepository()
//	svc := shadow.NewService(repo)
//	svc.SetLogger(log)
//
//	sh, err := svc.CreateDeviceShadow(ctx, "thermostat-01",
//	    shadow.NewState(map[string]any{"temp": 20.5}))
//	if err != nil {
//	    return err
//	}
//
//	svc.AddListener(func(ev shadow.Event) {
//	    log.Info("shadow changed", "device_id", ev.DeviceID, "version", ev.Version)
//	})
//
//	_, err = svc.UpdateDesiredState(ctx, "thermostat-01",
//	    shadow.NewState(map[string]any{"temp": 22.0}), "")
//
// # Versioning
//
// Every successful mutation (reported update, desired update, desired clear)
// increments the shadow version by exactly 1. The SQLite repository enforces
// this under concurrent writers with an optimistic compare-and-swap on the
// version read at fetch time; a lost update is retried, never silently
// overwritten.
//
// # Thread Safety
//
// State values are immutable; Shadow instances are not safe for concurrent
// mutation and are owned exclusively by the repository. Both repository
// implementations and the Service are safe for concurrent use.
package shadow
