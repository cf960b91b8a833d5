package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"greentech/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

var (
	rps        = flag.Float64("rps", 0.5, "Readings per second")
	anomaly    = flag.Float64("anomaly", 0.1, "Probability of an out-of-range reading (0.0-1.0)")
	seed       = flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	mqttBroker = flag.String("broker", "tcp://localhost:1883", "MQTT broker URL")
	mqttUser   = flag.String("user", "", "MQTT username")
	mqttPass   = flag.String("pass", "", "MQTT password")
)

func main() {
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if *rps <= 0 {
		logger.Fatal("rps must be positive", zap.Float64("rps", *rps))
	}

	greenhouse := NewGreenhouse(*anomaly, *seed)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(*mqttBroker)
	opts.SetClientID(fmt.Sprintf("greenhouse-controller-%d", os.Getpid()))
	opts.SetUsername(*mqttUser)
	opts.SetPassword(*mqttPass)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", *mqttBroker))

		filters := map[string]byte{
			models.TopicMode.String():        1,
			models.TopicIrrigation.String():  1,
			models.TopicVentilation.String(): 1,
		}
		token := client.SubscribeMultiple(filters, func(c mqtt.Client, msg mqtt.Message) {
			topic, ok := models.ParseTopic(msg.Topic())
			if !ok {
				return
			}
			payload := string(msg.Payload())
			if err := greenhouse.Apply(topic, payload); err != nil {
				logger.Warn("Rejected command", zap.String("topic", msg.Topic()), zap.Error(err))
				return
			}
			logger.Info("Command received",
				zap.String("topic", msg.Topic()),
				zap.String("payload", payload))
		})
		if token.Wait() && token.Error() != nil {
			logger.Error("Failed to subscribe to command topics", zap.Error(token.Error()))
		}
	}

	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logger.Fatal("Failed to connect to MQTT broker", zap.Error(token.Error()))
	}
	defer client.Disconnect(250)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping simulator")
		cancel()
	}()

	interval := time.Duration(float64(time.Second) / *rps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("Greenhouse simulator started",
		zap.Duration("interval", interval),
		zap.Float64("anomaly_probability", *anomaly),
		zap.Int64("seed", *seed))

	published, anomalies := 0, 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("Simulator stopped",
				zap.Int("readings", published),
				zap.Int("anomalies", anomalies))
			return

		case <-ticker.C:
			reading := greenhouse.Next()
			if reading.Anomaly {
				anomalies++
			}

			// actuator state is retained so a late subscriber sees it at once
			publish(client, logger, reading.Messages(), false)
			publish(client, logger, greenhouse.Actuators(), true)
			published++

			logger.Debug("Published reading",
				zap.Float64("temperature", reading.Temperature),
				zap.Float64("humidity", reading.Humidity),
				zap.Int("soil_moisture", reading.SoilMoisture),
				zap.Bool("anomaly", reading.Anomaly))
		}
	}
}

func publish(client mqtt.Client, logger *zap.Logger, messages map[models.Topic]string, retained bool) {
	for topic, payload := range messages {
		token := client.Publish(topic.String(), 0, retained, payload)
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			logger.Error("Failed to publish",
				zap.String("topic", topic.String()),
				zap.Error(token.Error()))
		}
	}
}
