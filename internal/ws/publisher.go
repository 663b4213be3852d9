package ws

import (
	"encoding/json"
	"errors"
	"fmt"

	"go-branch-transfer/internal/model"
)

// BoardPublisher mirrors transfer state onto the shared display board over the
// websocket hub. The send is non-blocking: if the hub's buffer is full the
// entry is dropped with an error so the caller can log it, rather than
// stalling a committed transition.
type BoardPublisher struct {
	hub *Hub
}

func NewBoardPublisher(hub *Hub) *BoardPublisher {
	return &BoardPublisher{hub: hub}
}

func (p *BoardPublisher) Publish(t *model.OrderTransfer, state model.TransferStatus, orderInfo *model.OrderDeliveryInfo) error {
	payload := map[string]interface{}{
		"type":        "transfer_board",
		"transfer_id": t.ID,
		"from_branch": t.OrderBranchName,
		"to_branch":   t.ProcessBranchName,
		"amount":      t.OriginalOrderAmount,
		"reason":      t.TransferReason,
		"state":       state,
	}
	if orderInfo != nil {
		payload["order"] = orderInfo
	}
	return p.send(payload)
}

func (p *BoardPublisher) send(payload map[string]interface{}) error {
	msg, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	select {
	case p.hub.Broadcast <- msg:
		return nil
	default:
		return errors.New("display board broadcast buffer full")
	}
}

// TransferNotifier delivers workflow notifications to branch users over the
// same hub.
type TransferNotifier struct {
	hub *Hub
}

func NewTransferNotifier(hub *Hub) *TransferNotifier {
	return &TransferNotifier{hub: hub}
}

func (n *TransferNotifier) NotifyCreated(t *model.OrderTransfer) error {
	return n.send(t, "transfer_created", t.ProcessBranchName,
		fmt.Sprintf("%s requested a transfer to %s", t.OrderBranchName, t.ProcessBranchName))
}

func (n *TransferNotifier) NotifyAccepted(t *model.OrderTransfer) error {
	// Both parties care about acceptance.
	if err := n.send(t, "transfer_accepted", t.OrderBranchName,
		fmt.Sprintf("%s accepted the transfer", t.ProcessBranchName)); err != nil {
		return err
	}
	return n.send(t, "transfer_accepted", t.ProcessBranchName,
		fmt.Sprintf("%s accepted the transfer", t.ProcessBranchName))
}

func (n *TransferNotifier) NotifyCompleted(t *model.OrderTransfer) error {
	return n.send(t, "transfer_completed", t.OrderBranchName,
		fmt.Sprintf("%s completed the transferred order", t.ProcessBranchName))
}

func (n *TransferNotifier) NotifyCancelled(t *model.OrderTransfer, reason string) error {
	msg := fmt.Sprintf("%s cancelled the transfer", t.OrderBranchName)
	if reason != "" {
		msg += ": " + reason
	}
	return n.send(t, "transfer_cancelled", t.ProcessBranchName, msg)
}

func (n *TransferNotifier) send(t *model.OrderTransfer, event, branch, message string) error {
	payload := map[string]interface{}{
		"type":        "transfer_notification",
		"event":       event,
		"transfer_id": t.ID,
		"branch":      branch,
		"message":     message,
	}
	msg, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	select {
	case n.hub.Broadcast <- msg:
		return nil
	default:
		return errors.New("notification broadcast buffer full")
	}
}
