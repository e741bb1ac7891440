// Package bridge connects physical devices to the shadow service over MQTT.
//
// Devices publish partial reported-state documents to shadow/{id}/reported;
// the bridge applies them through the shadow service so MQTT writes flow
// through the same validation, versioning, and fan-out path as HTTP and
// WebSocket writes.
//
// In the other direction the bridge listens to service change events and
// keeps two retained topics current for each device:
//
//   - shadow/{id}/delta: the outstanding desired-vs-reported difference. A
//     device reconnecting after downtime immediately receives the retained
//     delta and can converge without polling. An empty object means the
//     device is in sync.
//   - shadow/{id}/document: the full shadow document for dashboards and
//     other passive observers.
//
// Publish failures are logged and never propagated into the mutation path:
// a flaky broker must not make a state update fail.
package bridge
