// Package dm implements the device side of the Watson IoT Platform
// device-management protocol over MQTT.
//
// The engine publishes device-initiated requests (manage, unmanage,
// location, diagnostics) and correlates the platform's responses by request
// id. It answers platform-initiated requests: field updates, observe and
// cancel, device actions (reboot, factory reset) and firmware download and
// update. Firmware progress is tracked by a small state machine and pushed
// as notifications while the platform observes mgmt.firmware.
//
// # Concurrency
//
// A single goroutine (Run) owns the session. Transport callbacks enqueue
// messages with Deliver; Send and the Change* methods hand work to the loop
// over channels. Application handlers run on a separate ordered worker so
// they can call back into the engine.
//
//	engine, err := dm.New(dm.Options{
//	    Transport:  transport,
//	    Handlers:   dm.Handlers{Reboot: agent, Firmware: agent},
//	    DeviceInfo: dm.DeviceInfo{SerialNumber: "10087", Manufacturer: "Acme"},
//	})
//	go engine.Run(ctx)
//	resp, err := engine.Manage(ctx, 3600, true, true)
//
// # Topics
//
//	iotdevice-1/mgmt/manage              device → platform requests
//	iotdevice-1/response                 device answers to platform requests
//	iotdevice-1/notify                   observed attribute changes
//	iotdm-1/#                            platform → device
package dm
