// Package mqtt connects relaysync to the cloud relay broker.
//
// The vendor cloud is reached through an MQTT broker: the bridge publishes
// device commands and state queries, and the cloud side publishes acks,
// device params and presence. Every topic sits under one prefix:
//
//	{prefix}/{deviceID}/command   bridge -> cloud
//	{prefix}/{deviceID}/query     bridge -> cloud
//	{prefix}/{deviceID}/ack       cloud -> bridge
//	{prefix}/{deviceID}/state     cloud -> bridge
//	{prefix}/{deviceID}/online    cloud -> bridge
//	{prefix}/bridge/{id}/status   retained bridge status and Last Will
//
// # Usage
//
//	topics := mqtt.Topics{Prefix: cfg.Cloud.TopicPrefix}
//	client, err := mqtt.Connect(cfg.MQTT, topics.BridgeStatus(cfg.Bridge.ID))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
// TLS should be enabled whenever the broker is not on the local host;
// commands carry device API keys.
package mqtt
