// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sink

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// mqttTimeout bounds connect and publish round trips
const mqttTimeout = 10 * time.Second

// MQTTPublisher publishes records to <topic>/<kind> at QoS 1
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
}

func mqttOptions(broker, clientID string, log zerolog.Logger) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetConnectTimeout(mqttTimeout)

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", broker).Msg("MQTT connection lost")
	})
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Str("broker", broker).Msg("connected to MQTT broker")
	})
	return opts
}

func connectMQTT(opts *mqtt.ClientOptions, broker string) (mqtt.Client, error) {
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttTimeout) {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: timeout", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", broker, err)
	}
	return client, nil
}

// DialMQTT connects to an MQTT broker such as tcp://localhost:1883
func DialMQTT(broker, clientID, topic string, log zerolog.Logger) (*MQTTPublisher, error) {
	client, err := connectMQTT(mqttOptions(broker, clientID, log), broker)
	if err != nil {
		return nil, err
	}
	return &MQTTPublisher{client: client, topic: topic}, nil
}

func (p *MQTTPublisher) Publish(kind string, data []byte) error {
	topic := p.topic + "/" + kind
	token := p.client.Publish(topic, 1, false, data)
	if !token.WaitTimeout(mqttTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}

// MQTTSubscription delivers records published under a topic
type MQTTSubscription struct {
	client mqtt.Client
	filter string
}

// SubscribeMQTT calls fn for every record published below topic. fn runs on
// the MQTT client's goroutine.
func SubscribeMQTT(broker, clientID, topic string, log zerolog.Logger, fn func(Record)) (*MQTTSubscription, error) {
	client, err := connectMQTT(mqttOptions(broker, clientID, log), broker)
	if err != nil {
		return nil, err
	}

	filter := topic + "/#"
	token := client.Subscribe(filter, 1, func(_ mqtt.Client, msg mqtt.Message) {
		rec, err := Decode(msg.Payload())
		if err != nil {
			log.Warn().Err(err).Str("topic", msg.Topic()).Msg("undecodable record")
			return
		}
		fn(rec)
	})
	if token.Wait() && token.Error() != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("subscribe %s: %w", filter, token.Error())
	}
	return &MQTTSubscription{client: client, filter: filter}, nil
}

func (s *MQTTSubscription) Close() error {
	s.client.Unsubscribe(s.filter).WaitTimeout(mqttTimeout)
	s.client.Disconnect(250)
	return nil
}
