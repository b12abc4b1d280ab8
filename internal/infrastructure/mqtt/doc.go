// Package mqtt connects School Docs Core to an MQTT broker.
//
// The broker carries live role record changes between core instances:
// every write to a role record is published retained on
// {prefix}/roles/{userID}, and sessions subscribe to their own user's
// topic. The client also maintains a retained online/offline status on
// {prefix}/system/status, with a Last Will for unexpected disconnects.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.NewTopics(cfg.Roles.TopicPrefix))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().RoleRecord(userID), 1,
//	    func(topic string, payload []byte) error {
//	        return handleRecord(payload)
//	    })
//
// Anonymous broker access is for local development only; enable TLS and
// credentials in production.
package mqtt
