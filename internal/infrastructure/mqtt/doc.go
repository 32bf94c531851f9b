// Package mqtt provides the daemon's MQTT bus connection.
//
// The bus carries three kinds of traffic:
//
//	<root>/hotplug/attach|detach   host → daemon   instance notifications
//	<root>/system/channel          daemon → bus    retained channel status
//	<root>/system/status           daemon → bus    retained online/offline + LWT
//	<root>/events/<kind>           daemon → bus    lifecycle events
//
// The root defaults to "sideband" and is configured via hotplug.topic_prefix.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Topics{Root: cfg.Hotplug.TopicPrefix})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().HotplugAttach(), 1,
//	    func(topic string, payload []byte) error {
//	        return handleAttach(payload)
//	    })
package mqtt
