// Package mqtt wraps paho.mqtt.golang for the devicelink event bus.
//
// The core publishes device presence and command status changes and
// listens for control requests from automation clients. Every topic lives
// under the configured prefix (default "devicelink"):
//
//	{prefix}/device/{pk}/presence   retained, {"online":bool,"timestamp":...}
//	{prefix}/command/{id}/status    {"command_id","device_pk","status","error"}
//	{prefix}/control/{pk}           inbound control requests
//	{prefix}/system/status          retained online/offline, also the LWT
//
// Subscriptions are tracked and restored after a reconnect. Handlers run on
// paho goroutines; a panicking handler is recovered and logged.
package mqtt
