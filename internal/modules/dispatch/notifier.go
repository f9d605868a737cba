package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"firebase.google.com/go/v4/messaging"
)

// MessageSender is the part of *messaging.Client the notifier needs.
type MessageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMNotifier pushes assignments to the topic each worker app subscribes
// to, so no device token lookup is needed.
type FCMNotifier struct {
	client MessageSender
	log    *slog.Logger
}

func NewFCMNotifier(client MessageSender, log *slog.Logger) *FCMNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &FCMNotifier{client: client, log: log}
}

// WorkerTopic is the FCM topic a worker's device subscribes to.
func WorkerTopic(workerID string) string {
	return "worker_" + workerID
}

func (n *FCMNotifier) NotifyAssignment(ctx context.Context, a Assignment, cmd AssignCommand) error {
	msg := assignmentMessage(a, cmd)
	id, err := n.client.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("sending FCM to topic %s: %w", msg.Topic, err)
	}
	n.log.Info("FCM sent", "order_id", a.OrderID, "worker_id", a.WorkerID, "message_id", id)
	return nil
}

func assignmentMessage(a Assignment, cmd AssignCommand) *messaging.Message {
	data := map[string]string{
		"type":           "new_delivery",
		"order_id":       string(a.OrderID),
		"restaurant_lat": strconv.FormatFloat(cmd.Restaurant.Lat, 'f', 6, 64),
		"restaurant_lng": strconv.FormatFloat(cmd.Restaurant.Lng, 'f', 6, 64),
		"distance_km":    strconv.FormatFloat(a.DistanceKm, 'f', 2, 64),
	}
	if cmd.Customer != nil {
		data["customer_lat"] = strconv.FormatFloat(cmd.Customer.Lat, 'f', 6, 64)
		data["customer_lng"] = strconv.FormatFloat(cmd.Customer.Lng, 'f', 6, 64)
	}
	if a.Route != nil {
		data["polyline"] = a.Route.Polyline
	}
	return &messaging.Message{
		Topic: WorkerTopic(string(a.WorkerID)),
		Data:  data,
		Notification: &messaging.Notification{
			Title: "New delivery",
			Body:  fmt.Sprintf("Pickup %.1f km away", a.DistanceKm),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
}
